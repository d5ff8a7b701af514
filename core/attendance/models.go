package attendance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core"
)

const (
	// store paths; wire formats are shared with every other client of the data
	// repository and must not change shape.
	sessionsPath = "active_attendance.json"
	devicesPath  = "device_registry.json"

	timeLayout = "2006-01-02 15:04:05"
)

// SessionKey identifies one attendance window. Immutable once formed.
type SessionKey struct {
	School     string
	Department string
	Level      int
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s_%s_%d", k.School, k.Department, k.Level)
}

// LedgerPath is the data-repository path of this session's ledger blob.
func (k SessionKey) LedgerPath() string {
	return "attendance_" + k.String() + ".json"
}

// Session is one open attendance window: the current 4-digit token and its expiry.
type Session struct {
	Key    SessionKey `json:"-"`
	Token  string     `json:"current_token"`
	Expiry int64      `json:"expiry"` // unix seconds
}

// ExpiresAt returns the expiry as a wall-clock instant in the given location.
func (s Session) ExpiresAt(loc *time.Location) time.Time {
	return time.Unix(s.Expiry, 0).In(loc)
}

// Record is one accepted submission. Immutable once appended; SN is 1-based
// insertion order within the session's ledger.
type Record struct {
	SN       int    `json:"S/N"`
	FullName string `json:"Full Name"`
	Matric   string `json:"Matric Number"`
	Time     string `json:"Time"`
}

// Ledger is the ordered, append-only list of accepted submissions for one SessionKey.
type Ledger []Record

// HasName reports whether a record with a case-insensitive-equal full name exists.
func (l Ledger) HasName(fullName string) bool {
	fullName = core.CleanString(fullName, true /* lower */)
	for _, rec := range l {
		if strings.ToLower(rec.FullName) == fullName {
			return true
		}
	}
	return false
}

// HasMatric reports whether a record with the exact matric number exists.
func (l Ledger) HasMatric(matric string) bool {
	for _, rec := range l {
		if rec.Matric == matric {
			return true
		}
	}
	return false
}

// NewSubmission is the raw input of one submission attempt. DeviceID is a
// client-persisted opaque string, accepted as-is.
type NewSubmission struct {
	Code       string `json:"code"`
	Surname    string `json:"surname" validate:"required"`
	OtherNames string `json:"other_names" validate:"required"`
	Matric     string `json:"matric" validate:"required,matric"`
	DeviceID   string `json:"device_id"`
}

// Clean normalizes all fields in place.
func (ns *NewSubmission) Clean() {
	ns.Code = core.CleanString(ns.Code)
	ns.Surname = core.CleanString(ns.Surname)
	ns.OtherNames = core.CleanString(ns.OtherNames)
	ns.Matric = core.CleanString(ns.Matric)
	ns.DeviceID = core.CleanString(ns.DeviceID)
}

// Validate checks field shapes only; code freshness and duplicate checks are the
// Service's job since they need store state.
func (ns *NewSubmission) Validate() error {
	ns.Clean()
	return core.Validate.Struct(ns)
}

// FullName joins surname and other names with a single space.
func (ns NewSubmission) FullName() string {
	return ns.Surname + " " + ns.OtherNames
}

// blob codecs; decoding fails closed: a malformed blob is an error, never coerced.

type (
	sessionMap map[string]Session
	deviceMap  map[string]string // deviceID -> matric
)

func decodeStrict(content []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(content))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "malformed blob")
	}
	// trailing garbage is as malformed as a bad document
	if dec.More() {
		return errors.New("malformed blob: trailing data")
	}
	return nil
}

func decodeSessions(content []byte) (sessionMap, error) {
	sessions := make(sessionMap)
	if err := decodeStrict(content, &sessions); err != nil {
		return nil, errors.Wrap(err, sessionsPath)
	}
	return sessions, nil
}

func decodeDevices(content []byte) (deviceMap, error) {
	devices := make(deviceMap)
	if err := decodeStrict(content, &devices); err != nil {
		return nil, errors.Wrap(err, devicesPath)
	}
	return devices, nil
}

func decodeLedger(content []byte) (Ledger, error) {
	var ledger Ledger
	if err := decodeStrict(content, &ledger); err != nil {
		return nil, errors.Wrap(err, "ledger")
	}
	return ledger, nil
}

func encodeBlob(v interface{}) ([]byte, error) {
	content, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding blob")
	}
	return content, nil
}
