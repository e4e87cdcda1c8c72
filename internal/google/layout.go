package google

import (
	"sort"
	"strings"
	"time"

	"fieldops/internal/models"
)

// ColumnCount is the width of every row written to the sheet (A..O).
const ColumnCount = 15

const (
	lastColumn   = "O"
	noDateLabel  = "No Date"
	acceptedYes  = "Ya"
	acceptedNo   = "Tidak"
	firstDataRow = 2
)

// HeaderLabels is the fixed label row written to row 1.
var HeaderLabels = [ColumnCount]string{
	"No",
	"Tanggal",
	"Kategori",
	"Req By",
	"Tiket All BNET",
	"ID-Nama/POP/ODP/JB",
	"Tikor",
	"Detail",
	"Janji Datang",
	"Petugas 1",
	"Petugas 2",
	"Petugas 3",
	"BA",
	"Status",
	"Remarks",
}

// SheetRow is one data row of the job sheet, in column order.
type SheetRow struct {
	No          int
	Date        string
	Category    string
	RequestedBy string
	TicketID    string
	LocationID  string
	Coordinates string
	Detail      string
	Appointment string
	Engineer1   string
	Engineer2   string
	Engineer3   string
	Accepted    string
	Status      string
	Remarks     string
}

// Values returns the row as positional cell values.
func (r SheetRow) Values() []interface{} {
	return []interface{}{
		r.No,
		r.Date,
		r.Category,
		r.RequestedBy,
		r.TicketID,
		r.LocationID,
		r.Coordinates,
		r.Detail,
		r.Appointment,
		r.Engineer1,
		r.Engineer2,
		r.Engineer3,
		r.Accepted,
		r.Status,
		r.Remarks,
	}
}

// NewSheetRow renders a job at the given position within its date bucket.
func NewSheetRow(position int, job *models.Job) SheetRow {
	return SheetRow{
		No:          position,
		Date:        FormatDate(job.Date),
		Category:    job.Category,
		RequestedBy: job.RequestedBy,
		TicketID:    job.TicketID,
		LocationID:  job.LocationID,
		Coordinates: job.Coordinates,
		Detail:      job.Detail,
		Appointment: FormatTime(job.AppointmentTime),
		Engineer1:   job.Engineer1,
		Engineer2:   job.Engineer2,
		Engineer3:   job.Engineer3,
		Accepted:    FormatAccepted(job.Accepted),
		Status:      job.Status,
		Remarks:     job.Remarks,
	}
}

// FormatDate renders a date as dd/mm/yyyy; nil renders as "".
func FormatDate(d *time.Time) string {
	if d == nil || d.IsZero() {
		return ""
	}
	return d.Format(models.SheetDateLayout)
}

// FormatTime normalizes an appointment time to HH:mm. Values that are not a
// recognizable time of day are passed through unchanged.
func FormatTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, layout := range []string{"15:04", "15:04:05", "15.04", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(models.SheetTimeLayout)
		}
	}
	return s
}

// FormatAccepted renders the BA flag.
func FormatAccepted(accepted bool) string {
	if accepted {
		return acceptedYes
	}
	return acceptedNo
}

// DateBucket groups jobs that share a calendar date. Key is "" for undated jobs.
type DateBucket struct {
	Key  string
	Date *time.Time
	Jobs []*models.Job
}

// Label is the text of the bucket's date-header row.
func (b DateBucket) Label() string {
	if b.Key == "" {
		return noDateLabel
	}
	return FormatDate(b.Date)
}

// GroupByDate partitions jobs into date buckets in a single pass, keeping the
// input order inside each bucket. Buckets are ordered by date descending with
// the undated bucket last, independent of the input order.
func GroupByDate(jobs []*models.Job) []DateBucket {
	index := make(map[string]int)
	var buckets []DateBucket
	for _, job := range jobs {
		if job == nil {
			continue
		}
		key := job.DateKey()
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, DateBucket{Key: key, Date: job.Date})
		}
		buckets[i].Jobs = append(buckets[i].Jobs, job)
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i].Key, buckets[j].Key
		if (a == "") != (b == "") {
			return b == ""
		}
		return a > b
	})
	return buckets
}

// Layout is the full data section of the sheet (everything below row 1).
type Layout struct {
	Rows [][]interface{}
	// HeaderRows holds the 1-based sheet row of every date-header row.
	HeaderRows []int
	Buckets    int
	Jobs       int
}

// BuildLayout turns ordered jobs into sheet rows. Each bucket contributes a
// date-header row followed by its jobs numbered 1..n.
func BuildLayout(jobs []*models.Job) Layout {
	buckets := GroupByDate(jobs)

	var layout Layout
	layout.Buckets = len(buckets)
	for _, bucket := range buckets {
		layout.HeaderRows = append(layout.HeaderRows, firstDataRow+len(layout.Rows))
		layout.Rows = append(layout.Rows, dateHeaderValues(bucket.Label()))

		for i, job := range bucket.Jobs {
			layout.Rows = append(layout.Rows, NewSheetRow(i+1, job).Values())
			layout.Jobs++
		}
	}
	return layout
}

func dateHeaderValues(label string) []interface{} {
	row := make([]interface{}, ColumnCount)
	for i := range row {
		row[i] = ""
	}
	row[1] = label
	return row
}

func headerValues() []interface{} {
	row := make([]interface{}, ColumnCount)
	for i, label := range HeaderLabels {
		row[i] = label
	}
	return row
}
