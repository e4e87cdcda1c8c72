package google

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/metrics"
	"fieldops/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// JobSource supplies every job in sheet order.
type JobSource interface {
	ListJobsForSheet(ctx context.Context) ([]*models.Job, error)
}

// SinkLocker serializes writers of one spreadsheet across processes.
type SinkLocker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SheetsService mirrors the job log into a single spreadsheet tab.
// Mutating operations are serialized per service instance.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	source        JobSource
	locker        SinkLocker
	logger        zerolog.Logger

	mu        sync.Mutex
	sheetIDMu sync.Mutex
	sheetID   *int64
}

// New builds the service from configuration. A missing spreadsheet id,
// missing credentials file or unparsable credentials leave the service
// unconfigured: every operation then returns a KindConfig result.
func New(ctx context.Context, cfg config.GoogleConfig, root string, source JobSource, logger *zerolog.Logger) *SheetsService {
	s := newService(nil, cfg.SpreadsheetID, cfg.SheetName, source, logger)

	if !cfg.Enabled(root) {
		s.logger.Warn().
			Bool("spreadsheet_id_set", cfg.SpreadsheetID != "").
			Str("credentials_file", cfg.CredentialsPath(root)).
			Msg("google sheets disabled: spreadsheet id or credentials file missing")
		return s
	}

	srv, err := newSheetsClient(ctx, cfg.CredentialsPath(root), cfg.HTTPTimeout)
	if err != nil {
		s.logger.Error().Err(err).Msg("google sheets disabled")
		return s
	}
	s.service = srv
	return s
}

// NewWithService wraps an existing Sheets client.
func NewWithService(srv *sheets.Service, spreadsheetID, sheetName string, source JobSource, logger *zerolog.Logger) *SheetsService {
	return newService(srv, spreadsheetID, sheetName, source, logger)
}

func newService(srv *sheets.Service, spreadsheetID, sheetName string, source JobSource, logger *zerolog.Logger) *SheetsService {
	if sheetName == "" {
		sheetName = models.DefaultSheetName
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "google_sheets").Str("spreadsheet_id", spreadsheetID).Logger()
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: strings.TrimSpace(spreadsheetID),
		sheetName:     sheetName,
		source:        source,
		logger:        l,
	}
}

func newSheetsClient(ctx context.Context, credentialsFile string, timeout time.Duration) (*sheets.Service, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client := jwtConfig.Client(ctx)
	if timeout > 0 {
		client.Timeout = timeout
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return srv, nil
}

// UseLocker installs a cross-process lock around mutating operations.
func (s *SheetsService) UseLocker(l SinkLocker) {
	s.locker = l
}

// Configured reports whether the sink can be used.
func (s *SheetsService) Configured() bool {
	return s != nil && s.service != nil && s.spreadsheetID != ""
}

// SpreadsheetID returns the target spreadsheet.
func (s *SheetsService) SpreadsheetID() string {
	if s == nil {
		return ""
	}
	return s.spreadsheetID
}

// a1 builds an A1 range on the job tab. The tab name is always quoted: names
// like "A1" or "Jobs&Log" are otherwise parsed as cell references or rejected.
func (s *SheetsService) a1(cells string) string {
	return "'" + strings.ReplaceAll(s.sheetName, "'", "''") + "'!" + cells
}

func (s *SheetsService) headerRange() string { return s.a1("A1:" + lastColumn + "1") }
func (s *SheetsService) dataRange() string   { return s.a1("A2:" + lastColumn) }
func (s *SheetsService) scanRange() string   { return s.a1("A:A") }

func (s *SheetsService) rowRange(row int) string {
	return s.a1(fmt.Sprintf("A%d:%s%d", row, lastColumn, row))
}

func (s *SheetsService) notConfigured(op string) Result {
	s.logger.Warn().Str("operation", op).Msg("google sheets not configured, skipping")
	metrics.ObserveSheetOperation(op, KindConfig.String())
	return failure(KindConfig, ErrNotConfigured)
}

// exclusive runs fn while holding the in-process and cross-process sink locks.
func (s *SheetsService) exclusive(ctx context.Context, op string, fn func() Result) Result {
	if !s.Configured() {
		return s.notConfigured(op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "sheets:lock:"+s.spreadsheetID)
		if err != nil {
			s.logger.Error().Err(err).Str("operation", op).Msg("acquire sheet lock")
			metrics.ObserveSheetOperation(op, KindTransport.String())
			return failure(KindTransport, fmt.Errorf("acquire sheet lock: %w", err))
		}
		defer release()
	}

	res := fn()
	metrics.ObserveSheetOperation(op, res.Kind.String())
	return res
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) Result {
	if !s.Configured() {
		return s.notConfigured("test_connection")
	}
	if _, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A1")).Context(ctx).Do(); err != nil {
		s.logger.Error().Err(err).Msg("connection test failed")
		return failure(KindTransport, fmt.Errorf("connection test failed: %w", err))
	}
	return Result{}
}

// EnsureHeaders writes the label row when row 1 is empty. A non-empty header
// range is never overwritten.
func (s *SheetsService) EnsureHeaders(ctx context.Context) Result {
	return s.exclusive(ctx, "ensure_headers", func() Result {
		return s.ensureHeaders(ctx)
	})
}

func (s *SheetsService) ensureHeaders(ctx context.Context) Result {
	rng := s.headerRange()
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		s.logger.Error().Err(err).Str("range", rng).Msg("read header row")
		return failure(KindTransport, fmt.Errorf("read header row: %w", err))
	}
	if !rangeEmpty(resp.Values) {
		return Result{}
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rng, &sheets.ValueRange{
		Values: [][]interface{}{headerValues()},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		s.logger.Error().Err(err).Str("range", rng).Msg("write header row")
		return failure(KindTransport, fmt.Errorf("write header row: %w", err))
	}

	s.logger.Info().Str("range", rng).Msg("header row written")
	return Result{Rows: 1, Row: 1}
}

func rangeEmpty(values [][]interface{}) bool {
	for _, row := range values {
		for _, cell := range row {
			if strings.TrimSpace(cellText(cell)) != "" {
				return false
			}
		}
	}
	return true
}

// SyncAllJobs rewrites the whole data section: clear, fetch, group, write,
// then format the date-header rows. Completed steps are not rolled back when
// a later one fails.
func (s *SheetsService) SyncAllJobs(ctx context.Context) Result {
	start := time.Now()
	res := s.exclusive(ctx, "sync_all", func() Result {
		return s.syncAllJobs(ctx)
	})
	metrics.ObserveSheetSync(time.Since(start), res.Rows)
	return res
}

func (s *SheetsService) syncAllJobs(ctx context.Context) Result {
	clearRange := s.dataRange()
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		s.logger.Error().Err(err).Str("range", clearRange).Msg("clear data range")
		return failure(KindTransport, fmt.Errorf("clear data range: %w", err))
	}
	s.resetDataFormatting(ctx)

	if s.source == nil {
		return failure(KindSource, fmt.Errorf("job source is not set"))
	}
	jobs, err := s.source.ListJobsForSheet(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("fetch jobs")
		return failure(KindSource, fmt.Errorf("fetch jobs: %w", err))
	}
	if len(jobs) == 0 {
		s.logger.Info().Msg("no jobs, sheet left empty")
		return Result{}
	}

	layout := BuildLayout(jobs)
	lastRow := firstDataRow + len(layout.Rows) - 1
	writeRange := s.a1(fmt.Sprintf("A%d:%s%d", firstDataRow, lastColumn, lastRow))

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, writeRange, &sheets.ValueRange{
		Values: layout.Rows,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		s.logger.Error().Err(err).Str("range", writeRange).Int("rows", len(layout.Rows)).Msg("write rows")
		return failure(KindTransport, fmt.Errorf("write rows: %w", err))
	}

	if res := s.formatDateHeaderRows(ctx, layout.HeaderRows); !res.OK() {
		s.logger.Warn().Err(res.Err).Msg("date header formatting skipped")
	}

	s.logger.Info().
		Int("rows", len(layout.Rows)).
		Int("buckets", layout.Buckets).
		Int("jobs", layout.Jobs).
		Msg("sheet resynced")
	return Result{Rows: len(layout.Rows), Buckets: layout.Buckets}
}

// SyncJob mirrors a single job change. Row positions depend on every job's
// date and order, so this always performs a full resync.
func (s *SheetsService) SyncJob(ctx context.Context, job *models.Job) Result {
	if job != nil {
		s.logger.Debug().Int64("job_id", job.ID).Msg("job changed, running full resync")
	}
	return s.SyncAllJobs(ctx)
}

// FormatDateHeaderRows merges columns B..O of every given row and styles it as
// a date header, in one batch request. Rows are 1-based sheet rows.
func (s *SheetsService) FormatDateHeaderRows(ctx context.Context, rows []int) Result {
	if len(rows) == 0 {
		return Result{}
	}
	return s.exclusive(ctx, "format_headers", func() Result {
		return s.formatDateHeaderRows(ctx, rows)
	})
}

var (
	headerBackground = &sheets.Color{Red: 0.26, Green: 0.26, Blue: 0.26}
	headerForeground = &sheets.Color{Red: 1, Green: 1, Blue: 1}
)

func (s *SheetsService) formatDateHeaderRows(ctx context.Context, rows []int) Result {
	if len(rows) == 0 || s.service == nil {
		return Result{}
	}

	sheetID, err := s.resolveSheetID(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("resolve sheet id for formatting")
		return failure(KindTransport, err)
	}

	requests := dateHeaderRequests(sheetID, rows)
	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		s.logger.Error().Err(err).Int("header_rows", len(rows)).Msg("apply date header formatting")
		return failure(KindTransport, fmt.Errorf("apply formatting: %w", err))
	}
	return Result{Rows: len(rows)}
}

// dateHeaderRequests converts 1-based sheet rows into 0-based grid ranges
// spanning columns B..O.
func dateHeaderRequests(sheetID int64, rows []int) []*sheets.Request {
	requests := make([]*sheets.Request, 0, 2*len(rows))
	for _, row := range rows {
		gridRange := &sheets.GridRange{
			SheetId:          sheetID,
			StartRowIndex:    int64(row - 1),
			EndRowIndex:      int64(row),
			StartColumnIndex: 1,
			EndColumnIndex:   ColumnCount,
		}
		requests = append(requests,
			&sheets.Request{
				MergeCells: &sheets.MergeCellsRequest{
					Range:     gridRange,
					MergeType: "MERGE_ALL",
				},
			},
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: gridRange,
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							BackgroundColor:     headerBackground,
							HorizontalAlignment: "LEFT",
							TextFormat: &sheets.TextFormat{
								Bold:            true,
								ForegroundColor: headerForeground,
							},
						},
					},
					Fields: "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment)",
				},
			},
		)
	}
	return requests
}

// resetDataFormatting drops merges and formats left by the previous layout.
// Failure only leaves stale styling behind, so it is logged and ignored.
func (s *SheetsService) resetDataFormatting(ctx context.Context) {
	sheetID, err := s.resolveSheetID(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("resolve sheet id for format reset")
		return
	}

	gridRange := &sheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    firstDataRow - 1,
		StartColumnIndex: 0,
		EndColumnIndex:   ColumnCount,
	}
	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{UnmergeCells: &sheets.UnmergeCellsRequest{Range: gridRange}},
			{RepeatCell: &sheets.RepeatCellRequest{
				Range:  gridRange,
				Cell:   &sheets.CellData{},
				Fields: "userEnteredFormat",
			}},
		},
	}).Context(ctx).Do()
	if err != nil {
		s.logger.Warn().Err(err).Msg("reset data range formatting")
	}
}

// DeleteJob clears the first row whose column A equals no. The row is
// blanked, not removed; the next full resync closes the gap.
func (s *SheetsService) DeleteJob(ctx context.Context, no string) Result {
	return s.exclusive(ctx, "delete_row", func() Result {
		return s.deleteJob(ctx, no)
	})
}

func (s *SheetsService) deleteJob(ctx context.Context, no string) Result {
	want := strings.TrimSpace(no)
	if want == "" {
		return failure(KindNotFound, fmt.Errorf("%w: empty display number", ErrRowNotFound))
	}

	rng := s.scanRange()
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		s.logger.Error().Err(err).Str("range", rng).Msg("scan column A")
		return failure(KindTransport, fmt.Errorf("scan column A: %w", err))
	}

	row := findRow(resp.Values, want)
	if row <= 1 {
		s.logger.Info().Str("no", want).Int("row", row).Msg("no data row to clear")
		return failure(KindNotFound, fmt.Errorf("%w: no %q", ErrRowNotFound, want))
	}

	clearRange := s.rowRange(row)
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		s.logger.Error().Err(err).Str("range", clearRange).Msg("clear row")
		return failure(KindTransport, fmt.Errorf("clear row: %w", err))
	}

	s.logger.Info().Str("no", want).Int("row", row).Msg("row cleared")
	return Result{Rows: 1, Row: row}
}

// findRow returns the 1-based row of the first column-A cell equal to want
// after trimming, or 0.
func findRow(values [][]interface{}, want string) int {
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(cellText(row[0])) == want {
			return i + 1
		}
	}
	return 0
}

func cellText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func (s *SheetsService) resolveSheetID(ctx context.Context) (int64, error) {
	s.sheetIDMu.Lock()
	defer s.sheetIDMu.Unlock()
	if s.sheetID != nil {
		return *s.sheetID, nil
	}
	id, err := s.GetSheetIdByName(ctx, s.sheetName)
	if err != nil {
		return 0, err
	}
	s.sheetID = &id
	return id, nil
}

// GetSheetIdByName возвращает ID листа по его названию
func (s *SheetsService) GetSheetIdByName(ctx context.Context, sheetName string) (int64, error) {
	if !s.Configured() {
		return 0, ErrNotConfigured
	}
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to get spreadsheet: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet '%s' not found", sheetName)
}
