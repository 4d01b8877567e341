package export

import (
	"context"
	"strings"
	"testing"
	"time"
)

func sampleSnapshot() Snapshot {
	six := 6
	return Snapshot{
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		GeneratedBy: "Aliya",
		Columns: []Column{
			{StatusName: "New", Companies: []Company{
				{ID: "cmp_1", Name: "Steppe Logistics", Region: "KST", Position: 0},
			}},
			{StatusName: "In Progress", Companies: []Company{
				{ID: "cmp_2", Name: "Altai Foods", Region: "VKO", Position: 0, DaysInStatus: &six, Overdue: true},
			}},
			{StatusName: "Done"},
		},
	}
}

func TestCSVRendersOneRowPerCompany(t *testing.T) {
	data, err := CSV(sampleSnapshot())
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), lines)
	}
	if lines[0] != "status,company_id,company_name,region,position,days_in_status,overdue" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "Steppe Logistics") || !strings.HasSuffix(lines[1], ",false") {
		t.Fatalf("unexpected first row: %q", lines[1])
	}
	if !strings.Contains(lines[2], ",6,true") {
		t.Fatalf("expected overdue row with 6 days, got %q", lines[2])
	}
}

type fakeUploader struct {
	uploaded []byte
}

func (f *fakeUploader) Upload(_ context.Context, data []byte, contentType string) (Artifact, error) {
	f.uploaded = data
	return Artifact{Key: "board/test.csv", ContentType: contentType, Size: int64(len(data))}, nil
}

func TestExportCSVUploadsWhenConfigured(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewService(uploader)

	data, artifact, err := svc.ExportCSV(context.Background(), sampleSnapshot())
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	if artifact == nil || artifact.Key == "" {
		t.Fatal("expected an artifact descriptor")
	}
	if string(uploader.uploaded) != string(data) {
		t.Fatal("uploaded bytes must match the returned CSV")
	}
}

func TestExportCSVWithoutUploader(t *testing.T) {
	svc := NewService(nil)
	if svc.CanUpload() {
		t.Fatal("CanUpload() should be false without an uploader")
	}
	data, artifact, err := svc.ExportCSV(context.Background(), sampleSnapshot())
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	if artifact != nil {
		t.Fatal("expected no artifact without an uploader")
	}
	if len(data) == 0 {
		t.Fatal("expected inline CSV data")
	}
}
