package export

import "context"

// Uploader stores rendered exports somewhere durable.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (Artifact, error)
}

// Service renders snapshots and, when an uploader is configured, stores the
// result as an artifact.
type Service struct {
	uploader Uploader
}

// NewService creates an export service. uploader may be nil; the CSV is
// then only returned inline.
func NewService(uploader Uploader) *Service {
	return &Service{uploader: uploader}
}

// CanUpload reports whether artifact storage is configured.
func (s *Service) CanUpload() bool {
	return s.uploader != nil
}

// ExportCSV renders the snapshot. When artifact storage is available the
// CSV is uploaded and its descriptor returned alongside the bytes.
func (s *Service) ExportCSV(ctx context.Context, snapshot Snapshot) ([]byte, *Artifact, error) {
	data, err := CSV(snapshot)
	if err != nil {
		return nil, nil, err
	}
	if s.uploader == nil {
		return data, nil, nil
	}
	artifact, err := s.uploader.Upload(ctx, data, "text/csv")
	if err != nil {
		return nil, nil, err
	}
	return data, &artifact, nil
}
