package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// fakeSheets is an in-memory stand-in for the Sheets v4 REST API covering the
// calls made by SheetsService.
type fakeSheets struct {
	mu      sync.Mutex
	sheetID int64
	title   string
	grid    map[int]map[int]interface{} // row -> col -> value, both 1-based

	gets    []string
	updates []updateCall
	clears  []string
	batches []*sheets.BatchUpdateSpreadsheetRequest
	ops     []string // value writes in arrival order: "clear <range>" / "update <range>"

	// fail maps an operation (get, update, clear, batch, meta) to an HTTP status.
	fail map[string]int
}

type updateCall struct {
	Range       string
	InputOption string
	Values      [][]interface{}
}

type a1Range struct {
	startCol, startRow int
	endCol, endRow     int // 0 means unbounded
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{
		sheetID: 42,
		title:   "Sheet1",
		grid:    make(map[int]map[int]interface{}),
		fail:    make(map[string]int),
	}
}

// service starts the fake server and returns a SheetsService bound to it.
func (f *fakeSheets) service(t *testing.T, source JobSource) *SheetsService {
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)

	client, err := sheets.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewWithService(client, "spreadsheet-1", f.title, source, nil)
}

func (f *fakeSheets) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/")
	switch {
	case strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		if strings.HasSuffix(rng, ":clear") {
			f.handleClear(w, strings.TrimSuffix(rng, ":clear"))
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.handleGet(w, rng)
		case http.MethodPut:
			f.handleUpdate(w, r, rng)
		default:
			http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
		}
	case strings.HasSuffix(path, ":batchUpdate"):
		f.handleBatch(w, r)
	case r.Method == http.MethodGet:
		if f.failed(w, "meta") {
			return
		}
		writeJSON(w, &sheets.Spreadsheet{
			SpreadsheetId: strings.TrimSuffix(path, "/"),
			Sheets: []*sheets.Sheet{
				{Properties: &sheets.SheetProperties{SheetId: f.sheetID, Title: f.title}},
			},
		})
	default:
		http.Error(w, "unexpected call "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

func (f *fakeSheets) failed(w http.ResponseWriter, op string) bool {
	code, ok := f.fail[op]
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(code) + `,"message":"injected failure"}}`))
	return true
}

func (f *fakeSheets) handleGet(w http.ResponseWriter, rng string) {
	f.gets = append(f.gets, rng)
	if f.failed(w, "get") {
		return
	}
	a := f.parse(rng)

	last := a.endRow
	if max := f.maxRow(); last == 0 || last > max {
		last = max
	}
	var values [][]interface{}
	for r := a.startRow; r <= last; r++ {
		var row []interface{}
		endCol := a.endCol
		if endCol == 0 {
			endCol = ColumnCount
		}
		for c := a.startCol; c <= endCol; c++ {
			row = append(row, f.cell(r, c))
		}
		values = append(values, trimRow(row))
	}
	for len(values) > 0 && len(values[len(values)-1]) == 0 {
		values = values[:len(values)-1]
	}
	writeJSON(w, &sheets.ValueRange{Range: rng, Values: values})
}

func (f *fakeSheets) handleUpdate(w http.ResponseWriter, r *http.Request, rng string) {
	var body sheets.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.ops = append(f.ops, "update "+rng)
	f.updates = append(f.updates, updateCall{
		Range:       rng,
		InputOption: r.URL.Query().Get("valueInputOption"),
		Values:      body.Values,
	})
	if f.failed(w, "update") {
		return
	}
	a := f.parse(rng)
	for i, row := range body.Values {
		for j, v := range row {
			f.set(a.startRow+i, a.startCol+j, v)
		}
	}
	writeJSON(w, &sheets.UpdateValuesResponse{UpdatedRange: rng, UpdatedRows: int64(len(body.Values))})
}

func (f *fakeSheets) handleClear(w http.ResponseWriter, rng string) {
	f.clears = append(f.clears, rng)
	f.ops = append(f.ops, "clear "+rng)
	if f.failed(w, "clear") {
		return
	}
	a := f.parse(rng)
	for r, cols := range f.grid {
		if r < a.startRow || (a.endRow != 0 && r > a.endRow) {
			continue
		}
		for c := range cols {
			if c >= a.startCol && (a.endCol == 0 || c <= a.endCol) {
				delete(cols, c)
			}
		}
	}
	writeJSON(w, &sheets.ClearValuesResponse{ClearedRange: rng})
}

func (f *fakeSheets) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body sheets.BatchUpdateSpreadsheetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.batches = append(f.batches, &body)
	if f.failed(w, "batch") {
		return
	}
	writeJSON(w, &sheets.BatchUpdateSpreadsheetResponse{})
}

func (f *fakeSheets) parse(rng string) a1Range {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[i+1:]
	}
	parts := strings.SplitN(rng, ":", 2)
	var a a1Range
	a.startCol, a.startRow = parseCell(parts[0])
	if a.startRow == 0 {
		a.startRow = 1
	}
	if len(parts) == 2 {
		a.endCol, a.endRow = parseCell(parts[1])
	} else {
		a.endCol, a.endRow = a.startCol, a.startRow
	}
	return a
}

func parseCell(ref string) (col, row int) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A'+1)
		i++
	}
	if i < len(ref) {
		row, _ = strconv.Atoi(ref[i:])
	}
	return col, row
}

func (f *fakeSheets) cell(r, c int) interface{} {
	if cols, ok := f.grid[r]; ok {
		if v, ok := cols[c]; ok {
			return v
		}
	}
	return ""
}

func (f *fakeSheets) set(r, c int, v interface{}) {
	if f.grid[r] == nil {
		f.grid[r] = make(map[int]interface{})
	}
	f.grid[r][c] = v
}

func (f *fakeSheets) maxRow() int {
	max := 0
	for r, cols := range f.grid {
		for _, v := range cols {
			if v != "" && v != nil && r > max {
				max = r
			}
		}
	}
	return max
}

// setColumnA seeds column A starting at row 1.
func (f *fakeSheets) setColumnA(values ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range values {
		f.set(i+1, 1, v)
	}
}

// snapshot returns the non-empty part of the grid as rows of cells.
func (f *fakeSheets) snapshot() [][]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := f.maxRow()
	out := make([][]interface{}, 0, max)
	for r := 1; r <= max; r++ {
		row := make([]interface{}, 0, ColumnCount)
		for c := 1; c <= ColumnCount; c++ {
			row = append(row, f.cell(r, c))
		}
		out = append(out, row)
	}
	return out
}

// dataUpdates returns the PUT calls excluding header writes.
func (f *fakeSheets) dataUpdates() []updateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []updateCall
	for _, u := range f.updates {
		if !strings.HasSuffix(u.Range, "!A1:O1") {
			out = append(out, u)
		}
	}
	return out
}

// mergeBatches returns batch requests that carry merge requests.
func (f *fakeSheets) mergeBatches() []*sheets.BatchUpdateSpreadsheetRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*sheets.BatchUpdateSpreadsheetRequest
	for _, b := range f.batches {
		for _, req := range b.Requests {
			if req.MergeCells != nil {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func trimRow(row []interface{}) []interface{} {
	for len(row) > 0 && (row[len(row)-1] == "" || row[len(row)-1] == nil) {
		row = row[:len(row)-1]
	}
	return row
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
