package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"flowboard/api/internal/auth"
	"flowboard/api/internal/authpw"
	"flowboard/api/internal/config"
	"flowboard/api/internal/export"
	"flowboard/api/internal/region"
	"flowboard/api/internal/scope"
	"flowboard/api/internal/search"
	"flowboard/api/internal/store"
	"flowboard/api/internal/util"
)

type dataStore interface {
	ListStatuses(ctx context.Context) ([]store.Status, error)
	GetStatus(ctx context.Context, statusID string) (store.Status, error)
	InsertStatus(ctx context.Context, st store.Status) error
	UpdateStatus(ctx context.Context, st store.Status) error
	DeleteStatus(ctx context.Context, statusID string) error

	ListCompanies(ctx context.Context, filter store.CompanyFilter) ([]store.Company, error)
	GetCompany(ctx context.Context, companyID, region string) (store.Company, error)
	InsertCompany(ctx context.Context, c store.Company) error
	UpdateCompany(ctx context.Context, c store.Company) error
	DeleteCompany(ctx context.Context, companyID string) error
	MoveCompany(ctx context.Context, companyID string, statusID *string, historyID string, changedAt time.Time) error
	PlaceCompany(ctx context.Context, companyID string, statusID *string, position int, historyID string, changedAt time.Time) error

	ListHistory(ctx context.Context, companyID string) ([]store.StatusHistory, error)
	GetHistory(ctx context.Context, historyID, region string) (store.StatusHistory, error)
	InsertHistory(ctx context.Context, h store.StatusHistory) error
	UpdateHistory(ctx context.Context, h store.StatusHistory) error
	DeleteHistory(ctx context.Context, historyID string) error
	LatestHistoryByCompany(ctx context.Context, region string) (map[string]store.StatusHistory, error)

	ListComments(ctx context.Context, companyID string) ([]store.Comment, error)
	InsertComment(ctx context.Context, c store.Comment) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type identityService interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error)
	Resolve(ctx context.Context, userID string) (store.User, error)
}

type searchService interface {
	SearchIDs(q search.Query) ([]string, error)
	IndexCompany(rec search.CompanyRecord)
	DeleteCompany(companyID string)
	ReindexAll(recs []search.CompanyRecord)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	identity identityService
	regions  *region.Registry
	search   searchService
	exporter *export.Service
}

func New(cfg config.Config, data dataStore, sessions sessionStore, identity identityService, regions *region.Registry, searcher searchService, exporter *export.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		identity: identity,
		regions:  regions,
		search:   searcher,
		exporter: exporter,
	}
}

// Ping reports data store connectivity for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Bootstrap seeds the workflow with a minimal status set when the table is
// empty and rebuilds the search index from the companies table.
func (s *Service) Bootstrap(ctx context.Context) error {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		seed := []store.Status{
			{ID: util.NewID("status"), Name: "New", Order: 0, DurationDays: 0},
			{ID: util.NewID("status"), Name: "In Progress", Order: 1, DurationDays: 5},
			{ID: util.NewID("status"), Name: "Done", Order: 2, DurationDays: 0},
		}
		for _, st := range seed {
			if err := s.store.InsertStatus(ctx, st); err != nil {
				return err
			}
		}
	}
	companies, err := s.store.ListCompanies(ctx, store.CompanyFilter{})
	if err != nil {
		return err
	}
	recs := make([]search.CompanyRecord, 0, len(companies))
	for _, c := range companies {
		recs = append(recs, search.CompanyRecord{ID: c.ID, Name: c.Name, Region: c.Region})
	}
	s.search.ReindexAll(recs)
	return nil
}

// --- sessions ---

type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Region       string    `json:"region"`
	IsStaff      bool      `json:"isStaff"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s Session) Caller() scope.Caller {
	return scope.Caller{
		UserID:  s.UserID,
		Name:    s.UserName,
		Region:  s.Region,
		IsStaff: s.IsStaff,
	}
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.identity.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.identity.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	claims := auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Region: user.Region,
		Staff:  user.IsStaff,
		JTI:    util.NewID("jti"),
		Exp:    expiresAt.Unix(),
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	refresh := util.NewID("refresh")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}
	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Region:       user.Region,
		IsStaff:      user.IsStaff,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Region:    claims.Region,
		IsStaff:   claims.Staff,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates the refresh token and re-reads the user so that region or
// staff changes take effect on the next access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.identity.Resolve(ctx, userID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// --- board projection ---

type StatusView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Order        int    `json:"order"`
	DurationDays int    `json:"durationDays"`
}

type CompanyView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	StatusID     *string `json:"statusId"`
	StatusName   string  `json:"statusName,omitempty"`
	Position     int     `json:"position"`
	Region       string  `json:"region"`
	RegionLabel  string  `json:"regionLabel"`
	DaysInStatus *int    `json:"daysInStatus"`
	IsOverdue    bool    `json:"isOverdue"`
}

type BoardColumn struct {
	Status    *StatusView   `json:"status"`
	Companies []CompanyView `json:"companies"`
}

func statusView(st store.Status) StatusView {
	return StatusView{ID: st.ID, Name: st.Name, Order: st.Order, DurationDays: st.DurationDays}
}

func daysSince(now, then time.Time) int {
	if now.Before(then) {
		return 0
	}
	return int(now.Sub(then) / (24 * time.Hour))
}

func (s *Service) companyView(c store.Company, statuses map[string]store.Status, latest map[string]store.StatusHistory, now time.Time) CompanyView {
	view := CompanyView{
		ID:          c.ID,
		Name:        c.Name,
		StatusID:    c.StatusID,
		Position:    c.Position,
		Region:      c.Region,
		RegionLabel: s.regions.Label(c.Region),
	}
	var duration int
	if c.StatusID != nil {
		if st, ok := statuses[*c.StatusID]; ok {
			view.StatusName = st.Name
			duration = st.DurationDays
		}
	}
	if last, ok := latest[c.ID]; ok {
		days := daysSince(now, last.ChangedAt)
		view.DaysInStatus = &days
		// A zero duration means the stage has no deadline.
		view.IsOverdue = c.StatusID != nil && duration > 0 && days > duration
	}
	return view
}

func (s *Service) boardData(ctx context.Context, regionFilter string) ([]store.Status, []store.Company, map[string]store.StatusHistory, map[string]store.Status, error) {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	companies, err := s.store.ListCompanies(ctx, store.CompanyFilter{Region: regionFilter})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	latest, err := s.store.LatestHistoryByCompany(ctx, regionFilter)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	byID := make(map[string]store.Status, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}
	return statuses, companies, latest, byID, nil
}

// ProjectBoard recomputes the grouped view from scratch on every call; the
// transition log and the companies table are the only inputs.
func (s *Service) ProjectBoard(ctx context.Context, caller scope.Caller, overdueOnly bool) ([]BoardColumn, error) {
	statuses, companies, latest, byID, err := s.boardData(ctx, caller.RegionFilter())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	grouped := make(map[string][]CompanyView)
	for _, c := range companies {
		view := s.companyView(c, byID, latest, now)
		if overdueOnly && !view.IsOverdue {
			continue
		}
		key := ""
		if c.StatusID != nil {
			key = *c.StatusID
		}
		grouped[key] = append(grouped[key], view)
	}
	columns := make([]BoardColumn, 0, len(statuses)+1)
	for _, st := range statuses {
		sv := statusView(st)
		views := grouped[st.ID]
		if views == nil {
			views = []CompanyView{}
		}
		columns = append(columns, BoardColumn{Status: &sv, Companies: views})
	}
	if unassigned := grouped[""]; len(unassigned) > 0 {
		columns = append(columns, BoardColumn{Status: nil, Companies: unassigned})
	}
	return columns, nil
}

// MoveCompany sets the company's status and appends a history row in one
// transaction. The row is appended even when the status does not change: a
// repeat move restarts the dwell clock.
func (s *Service) MoveCompany(ctx context.Context, caller scope.Caller, companyID string, statusID *string) error {
	company, err := s.store.GetCompany(ctx, companyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Company not found")
		}
		return err
	}
	if statusID != nil {
		if _, err := s.store.GetStatus(ctx, *statusID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFoundError("Status not found")
			}
			return err
		}
	}
	return s.store.MoveCompany(ctx, company.ID, statusID, util.NewID("hist"), time.Now())
}

// ReorderCompanies is best effort: ids that do not resolve inside the
// caller's region are skipped without error, and positions are assigned from
// the surviving order. An unknown target status turns the whole call into a
// no-op rather than an error.
func (s *Service) ReorderCompanies(ctx context.Context, caller scope.Caller, statusID *string, orderedIDs []string) error {
	if statusID != nil {
		if _, err := s.store.GetStatus(ctx, *statusID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
	}
	position := 0
	for _, id := range orderedIDs {
		company, err := s.store.GetCompany(ctx, id, caller.RegionFilter())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		if err := s.store.PlaceCompany(ctx, company.ID, statusID, position, util.NewID("hist"), time.Now()); err != nil {
			return err
		}
		position++
	}
	return nil
}

// --- company queries ---

type CompanyQuery struct {
	Text        string
	StatusID    string
	Region      string
	Unassigned  bool
	OverdueOnly bool
}

func (s *Service) resolveRegionFilter(caller scope.Caller, requested string) (string, error) {
	if requested == "" {
		return caller.RegionFilter(), nil
	}
	if !s.regions.Valid(requested) {
		return "", validationError("Unknown region", map[string]string{"region": requested})
	}
	if !caller.IsStaff && requested != caller.Region {
		if s.cfg.StrictRegion {
			return "", validationError("Region not permitted", map[string]string{"region": requested})
		}
		return caller.Region, nil
	}
	return requested, nil
}

func (s *Service) ListCompanies(ctx context.Context, caller scope.Caller, q CompanyQuery) ([]CompanyView, error) {
	regionFilter, err := s.resolveRegionFilter(caller, q.Region)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Status, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}
	companies, err := s.store.ListCompanies(ctx, store.CompanyFilter{
		Region:     regionFilter,
		StatusID:   q.StatusID,
		Unassigned: q.Unassigned,
	})
	if err != nil {
		return nil, err
	}
	if q.Text != "" {
		ids, err := s.search.SearchIDs(search.Query{Text: q.Text, Region: regionFilter})
		if err != nil {
			return nil, err
		}
		keep := make(map[string]bool, len(ids))
		for _, id := range ids {
			keep[id] = true
		}
		filtered := companies[:0]
		for _, c := range companies {
			if keep[c.ID] {
				filtered = append(filtered, c)
			}
		}
		companies = filtered
	}
	latest, err := s.store.LatestHistoryByCompany(ctx, regionFilter)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	views := make([]CompanyView, 0, len(companies))
	for _, c := range companies {
		view := s.companyView(c, byID, latest, now)
		if q.OverdueOnly && !view.IsOverdue {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type Summary struct {
	Total    int           `json:"total"`
	Overdue  int           `json:"overdue"`
	ByStatus []StatusCount `json:"byStatus"`
}

func (s *Service) Summarize(ctx context.Context, caller scope.Caller) (Summary, error) {
	_, companies, latest, byID, err := s.boardData(ctx, caller.RegionFilter())
	if err != nil {
		return Summary{}, err
	}
	now := time.Now()
	counts := make(map[string]int)
	summary := Summary{Total: len(companies)}
	for _, c := range companies {
		name := "Unassigned"
		if c.StatusID != nil {
			if st, ok := byID[*c.StatusID]; ok {
				name = st.Name
			}
		}
		counts[name]++
		if s.companyView(c, byID, latest, now).IsOverdue {
			summary.Overdue++
		}
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		summary.ByStatus = append(summary.ByStatus, StatusCount{Status: name, Count: counts[name]})
	}
	return summary, nil
}

// --- company CRUD ---

type CreateCompanyInput struct {
	Name     string  `json:"name"`
	Region   string  `json:"region"`
	StatusID *string `json:"statusId"`
}

type UpdateCompanyInput struct {
	Name   string `json:"name"`
	Region string `json:"region"`
}

func (s *Service) CreateCompany(ctx context.Context, caller scope.Caller, input CreateCompanyInput) (CompanyView, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return CompanyView{}, validationError("Name is required", nil)
	}
	companyRegion := caller.Region
	if caller.IsStaff {
		companyRegion = input.Region
	} else if s.cfg.StrictRegion && input.Region != "" && input.Region != caller.Region {
		return CompanyView{}, validationError("Region not permitted", map[string]string{"region": input.Region})
	}
	if !s.regions.Valid(companyRegion) {
		return CompanyView{}, validationError("Unknown region", map[string]string{"region": companyRegion})
	}
	if input.StatusID != nil {
		if _, err := s.store.GetStatus(ctx, *input.StatusID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return CompanyView{}, notFoundError("Status not found")
			}
			return CompanyView{}, err
		}
	}
	company := store.Company{
		ID:       util.NewID("company"),
		Name:     name,
		StatusID: input.StatusID,
		Region:   companyRegion,
	}
	if err := s.store.InsertCompany(ctx, company); err != nil {
		return CompanyView{}, err
	}
	s.search.IndexCompany(search.CompanyRecord{ID: company.ID, Name: company.Name, Region: company.Region})
	return s.viewOne(ctx, caller, company.ID)
}

func (s *Service) viewOne(ctx context.Context, caller scope.Caller, companyID string) (CompanyView, error) {
	company, err := s.store.GetCompany(ctx, companyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompanyView{}, notFoundError("Company not found")
		}
		return CompanyView{}, err
	}
	_, _, latest, byID, err := s.boardData(ctx, caller.RegionFilter())
	if err != nil {
		return CompanyView{}, err
	}
	return s.companyView(company, byID, latest, time.Now()), nil
}

type HistoryView struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"companyId"`
	StatusID   *string   `json:"statusId"`
	StatusName string    `json:"statusName,omitempty"`
	ChangedAt  time.Time `json:"changedAt"`
}

type CommentView struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type CompanyDetail struct {
	CompanyView
	History  []HistoryView `json:"history"`
	Comments []CommentView `json:"comments"`
}

func (s *Service) historyView(h store.StatusHistory, statuses map[string]store.Status) HistoryView {
	view := HistoryView{
		ID:        h.ID,
		CompanyID: h.CompanyID,
		StatusID:  h.StatusID,
		ChangedAt: h.ChangedAt,
	}
	if h.StatusID != nil {
		if st, ok := statuses[*h.StatusID]; ok {
			view.StatusName = st.Name
		}
	}
	return view
}

func (s *Service) GetCompanyDetail(ctx context.Context, caller scope.Caller, companyID string) (CompanyDetail, error) {
	view, err := s.viewOne(ctx, caller, companyID)
	if err != nil {
		return CompanyDetail{}, err
	}
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return CompanyDetail{}, err
	}
	byID := make(map[string]store.Status, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}
	rows, err := s.store.ListHistory(ctx, companyID)
	if err != nil {
		return CompanyDetail{}, err
	}
	detail := CompanyDetail{CompanyView: view, History: []HistoryView{}, Comments: []CommentView{}}
	for _, h := range rows {
		detail.History = append(detail.History, s.historyView(h, byID))
	}
	comments, err := s.store.ListComments(ctx, companyID)
	if err != nil {
		return CompanyDetail{}, err
	}
	for _, c := range comments {
		detail.Comments = append(detail.Comments, CommentView{
			ID:        c.ID,
			CompanyID: c.CompanyID,
			Author:    c.Author,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return detail, nil
}

func (s *Service) UpdateCompany(ctx context.Context, caller scope.Caller, companyID string, input UpdateCompanyInput) (CompanyView, error) {
	company, err := s.store.GetCompany(ctx, companyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompanyView{}, notFoundError("Company not found")
		}
		return CompanyView{}, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return CompanyView{}, validationError("Name is required", nil)
	}
	company.Name = name
	// Region is immutable for non-staff callers; their value is ignored.
	if caller.IsStaff && input.Region != "" {
		if !s.regions.Valid(input.Region) {
			return CompanyView{}, validationError("Unknown region", map[string]string{"region": input.Region})
		}
		company.Region = input.Region
	}
	if err := s.store.UpdateCompany(ctx, company); err != nil {
		return CompanyView{}, err
	}
	s.search.IndexCompany(search.CompanyRecord{ID: company.ID, Name: company.Name, Region: company.Region})
	return s.viewOne(ctx, caller, company.ID)
}

func (s *Service) DeleteCompany(ctx context.Context, caller scope.Caller, companyID string) error {
	company, err := s.store.GetCompany(ctx, companyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Company not found")
		}
		return err
	}
	if err := s.store.DeleteCompany(ctx, company.ID); err != nil {
		return err
	}
	s.search.DeleteCompany(company.ID)
	return nil
}

func (s *Service) AddComment(ctx context.Context, caller scope.Caller, companyID, body string) (CommentView, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return CommentView{}, validationError("Comment body is required", nil)
	}
	company, err := s.store.GetCompany(ctx, companyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CommentView{}, notFoundError("Company not found")
		}
		return CommentView{}, err
	}
	comment := store.Comment{
		ID:        util.NewID("comment"),
		CompanyID: company.ID,
		Author:    caller.Name,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return CommentView{}, err
	}
	return CommentView{
		ID:        comment.ID,
		CompanyID: comment.CompanyID,
		Author:    comment.Author,
		Body:      comment.Body,
		CreatedAt: comment.CreatedAt,
	}, nil
}

// --- history rows ---

type HistoryInput struct {
	StatusID  *string    `json:"statusId"`
	ChangedAt *time.Time `json:"changedAt"`
}

func (s *Service) validateHistoryStatus(ctx context.Context, statusID *string) error {
	if statusID == nil {
		return nil
	}
	if _, err := s.store.GetStatus(ctx, *statusID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Status not found")
		}
		return err
	}
	return nil
}

// AddHistory back-dates a transition without touching the company's current
// status; board projections pick the row up only if it is the newest.
func (s *Service) AddHistory(ctx context.Context, caller scope.Caller, companyID string, input HistoryInput) (HistoryView, error) {
	company, err := s.store.GetCompany(ctx, companyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HistoryView{}, notFoundError("Company not found")
		}
		return HistoryView{}, err
	}
	if err := s.validateHistoryStatus(ctx, input.StatusID); err != nil {
		return HistoryView{}, err
	}
	changedAt := time.Now()
	if input.ChangedAt != nil {
		changedAt = *input.ChangedAt
	}
	row := store.StatusHistory{
		ID:        util.NewID("hist"),
		CompanyID: company.ID,
		StatusID:  input.StatusID,
		ChangedAt: changedAt,
	}
	if err := s.store.InsertHistory(ctx, row); err != nil {
		return HistoryView{}, err
	}
	return s.lookupHistoryView(ctx, row)
}

func (s *Service) lookupHistoryView(ctx context.Context, row store.StatusHistory) (HistoryView, error) {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return HistoryView{}, err
	}
	byID := make(map[string]store.Status, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}
	return s.historyView(row, byID), nil
}

func (s *Service) EditHistory(ctx context.Context, caller scope.Caller, historyID string, input HistoryInput) (HistoryView, error) {
	row, err := s.store.GetHistory(ctx, historyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HistoryView{}, notFoundError("History row not found")
		}
		return HistoryView{}, err
	}
	if err := s.validateHistoryStatus(ctx, input.StatusID); err != nil {
		return HistoryView{}, err
	}
	row.StatusID = input.StatusID
	if input.ChangedAt != nil {
		row.ChangedAt = *input.ChangedAt
	}
	if err := s.store.UpdateHistory(ctx, row); err != nil {
		return HistoryView{}, err
	}
	return s.lookupHistoryView(ctx, row)
}

func (s *Service) DeleteHistory(ctx context.Context, caller scope.Caller, historyID string) error {
	row, err := s.store.GetHistory(ctx, historyID, caller.RegionFilter())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("History row not found")
		}
		return err
	}
	if err := s.store.DeleteHistory(ctx, row.ID); err != nil {
		if errors.Is(err, store.ErrLatestHistoryRow) {
			return conflictError("The most recent history row cannot be deleted")
		}
		return err
	}
	return nil
}

// --- status registry ---

type StatusInput struct {
	Name         string `json:"name"`
	Order        int    `json:"order"`
	DurationDays int    `json:"durationDays"`
}

func (s *Service) ListStatuses(ctx context.Context) ([]StatusView, error) {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]StatusView, 0, len(statuses))
	for _, st := range statuses {
		views = append(views, statusView(st))
	}
	return views, nil
}

func validateStatusInput(input StatusInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return validationError("Name is required", nil)
	}
	if input.DurationDays < 0 {
		return validationError("Duration must not be negative", nil)
	}
	return nil
}

func (s *Service) CreateStatus(ctx context.Context, input StatusInput) (StatusView, error) {
	if err := validateStatusInput(input); err != nil {
		return StatusView{}, err
	}
	st := store.Status{
		ID:           util.NewID("status"),
		Name:         strings.TrimSpace(input.Name),
		Order:        input.Order,
		DurationDays: input.DurationDays,
	}
	if err := s.store.InsertStatus(ctx, st); err != nil {
		return StatusView{}, err
	}
	return statusView(st), nil
}

func (s *Service) UpdateStatus(ctx context.Context, statusID string, input StatusInput) (StatusView, error) {
	if err := validateStatusInput(input); err != nil {
		return StatusView{}, err
	}
	st, err := s.store.GetStatus(ctx, statusID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StatusView{}, notFoundError("Status not found")
		}
		return StatusView{}, err
	}
	st.Name = strings.TrimSpace(input.Name)
	st.Order = input.Order
	st.DurationDays = input.DurationDays
	if err := s.store.UpdateStatus(ctx, st); err != nil {
		return StatusView{}, err
	}
	return statusView(st), nil
}

// DeleteStatus relies on the schema to detach companies and history rows
// rather than cascading deletes through them.
func (s *Service) DeleteStatus(ctx context.Context, statusID string) error {
	if _, err := s.store.GetStatus(ctx, statusID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Status not found")
		}
		return err
	}
	return s.store.DeleteStatus(ctx, statusID)
}

// --- regions / export ---

func (s *Service) ListRegions() []region.Region {
	return s.regions.List()
}

func (s *Service) ExportBoard(ctx context.Context, caller scope.Caller) ([]byte, *export.Artifact, error) {
	columns, err := s.ProjectBoard(ctx, caller, false)
	if err != nil {
		return nil, nil, err
	}
	snapshot := export.Snapshot{
		GeneratedAt: time.Now().UTC(),
		GeneratedBy: caller.Name,
	}
	for _, col := range columns {
		name := "Unassigned"
		if col.Status != nil {
			name = col.Status.Name
		}
		out := export.Column{StatusName: name}
		for _, c := range col.Companies {
			out.Companies = append(out.Companies, export.Company{
				ID:           c.ID,
				Name:         c.Name,
				Region:       c.Region,
				Position:     c.Position,
				DaysInStatus: c.DaysInStatus,
				Overdue:      c.IsOverdue,
			})
		}
		snapshot.Columns = append(snapshot.Columns, out)
	}
	return s.exporter.ExportCSV(ctx, snapshot)
}
