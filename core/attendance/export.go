package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core"
)

const exportTimeLayout = "2006-01-02_15-04"

var csvHeader = []string{"S/N", "Full Name", "Matric Number", "Time"}

// Export renders the session's ledger as CSV and writes it to the archive store
// under attendances/<school>/<department>/. The artifact is a snapshot, not
// authoritative state; re-exporting overwrites the previous snapshot for the
// same course and minute.
func (svc *Service) Export(ctx context.Context, key SessionKey, courseCode string) (string, error) {
	courseCode = core.CleanString(courseCode)
	if courseCode == "" {
		return "", core.NewValidationError(
			errors.New("course code is required"),
			core.FieldError{Field: "course_code", Error: "this field is required"},
		)
	}

	ledger, _, err := svc.loadLedger(ctx, key)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader)
	for _, rec := range ledger {
		_ = w.Write([]string{strconv.Itoa(rec.SN), rec.FullName, rec.Matric, rec.Time})
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return "", errors.Wrap(err, "rendering csv")
	}

	now := nowFunc().In(svc.conf.Timezone).Format(exportTimeLayout)
	dept := strings.ReplaceAll(key.Department, " ", "_")
	path := fmt.Sprintf("attendances/%s/%s/%s_%s_%s.csv", key.School, dept, courseCode, dept, now)

	// read-then-write so a same-minute re-export replaces rather than clobbers
	var version string
	f, err := svc.archive.Read(ctx, path)
	switch errors.Cause(err) {
	case nil:
		version = f.Version
	case core.ErrFileNotFound:
	default:
		return "", errors.Wrap(err, "reading archive")
	}

	msg := fmt.Sprintf("Upload attendance: %s %s %s", courseCode, key.Department, now)
	if _, err = svc.archive.Write(ctx, path, buf.Bytes(), version, msg); err != nil {
		return "", errors.Wrap(err, "writing archive")
	}
	return path, nil
}
