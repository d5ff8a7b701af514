package attendance

import (
	"context"
	"fmt"
	"net/mail"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core"
	emailsvc "github.com/ulasproject/ulas/services/email"
	"github.com/ulasproject/ulas/storage/inmem"
)

var testKey = SessionKey{School: "SICT", Department: "Computer Science", Level: 100}

type testLogger struct{}

func (testLogger) Enable(bool)                  {}
func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

func newTestConfig() *core.Config {
	conf := &core.Config{
		Debug:            true,
		TestMode:         true,
		Env:              "TEST",
		AppName:          "ULAS",
		Timezone:         time.FixedZone("WAT", 60*60),
		DefaultFromEmail: mail.Address{Name: "ULAS", Address: "noreply@localhost"},
		OperatorEmail:    mail.Address{Address: "ops@localhost"},
		TokenValidity:    5 * time.Minute,
		MaxWriteAttempts: 3,
	}
	return conf
}

func newTestService(store core.FileStore) (*Service, *core.Config) {
	conf := newTestConfig()
	emailsvc.ClearSentMessages()
	svc := NewService(store, inmem.New(), emailsvc.NewConsoleServiceMock(conf), testLogger{}, conf)
	return svc, conf
}

func seedSession(store *inmem.Store, key SessionKey, token string, expiry time.Time) {
	store.Seed(sessionsPath, []byte(fmt.Sprintf(
		`{"%s": {"current_token": %q, "expiry": %d}}`, key, token, expiry.Unix(),
	)))
}

func newSub(device string) NewSubmission {
	return NewSubmission{
		Code:       "4821",
		Surname:    "Doe",
		OtherNames: "Jane",
		Matric:     "20231234567",
		DeviceID:   device,
	}
}

func TestSubmitAccept(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	now := time.Now()
	seedSession(store, testKey, "4821", now.Add(300*time.Second))

	rec, err := svc.Submit(context.Background(), testKey, newSub("dev-1"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.SN != 1 {
		t.Errorf("SN = %d, want 1", rec.SN)
	}
	if rec.FullName != "Doe Jane" {
		t.Errorf("FullName = %q, want %q", rec.FullName, "Doe Jane")
	}
	if rec.Matric != "20231234567" {
		t.Errorf("Matric = %q, want %q", rec.Matric, "20231234567")
	}
	if _, err := time.Parse(timeLayout, rec.Time); err != nil {
		t.Errorf("Time = %q, not in layout %q", rec.Time, timeLayout)
	}

	// both blobs must be durable
	ledger, err := decodeLedger(store.Contents(testKey.LedgerPath()))
	if err != nil {
		t.Fatalf("decodeLedger() error = %v", err)
	}
	if len(ledger) != 1 || ledger[0] != rec {
		t.Errorf("ledger = %+v, want [%+v]", ledger, rec)
	}
	devices, err := decodeDevices(store.Contents(devicesPath))
	if err != nil {
		t.Fatalf("decodeDevices() error = %v", err)
	}
	if devices["dev-1"] != "20231234567" {
		t.Errorf("devices = %v, want dev-1 -> 20231234567", devices)
	}
}

func TestSubmitSequenceNumbers(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	seedSession(store, testKey, "4821", time.Now().Add(300*time.Second))

	subs := []NewSubmission{
		{Code: "4821", Surname: "Doe", OtherNames: "Jane", Matric: "20231234567", DeviceID: "dev-1"},
		{Code: "4821", Surname: "Obi", OtherNames: "Eze", Matric: "20231234568", DeviceID: "dev-2"},
		{Code: "4821", Surname: "Musa", OtherNames: "Aisha", Matric: "20231234569", DeviceID: "dev-3"},
	}
	for i, sub := range subs {
		rec, err := svc.Submit(context.Background(), testKey, sub)
		if err != nil {
			t.Fatalf("Submit(#%d) error = %v", i+1, err)
		}
		if rec.SN != i+1 {
			t.Errorf("Submit(#%d) SN = %d, want %d", i+1, rec.SN, i+1)
		}
	}
}

func TestSubmitRejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		seed    func(store *inmem.Store)
		sub     NewSubmission
		at      time.Time
		wantErr error
		wantVal bool // expect validator.ValidationErrors instead of a sentinel
	}{
		{
			name:    "no session",
			seed:    func(store *inmem.Store) {},
			sub:     newSub("dev-1"),
			wantErr: ErrNoActiveSession,
		},
		{
			name:    "wrong code",
			seed:    func(store *inmem.Store) { seedSession(store, testKey, "1111", now.Add(300*time.Second)) },
			sub:     newSub("dev-1"),
			wantErr: ErrInvalidOrExpiredCode,
		},
		{
			name:    "correct code past expiry",
			seed:    func(store *inmem.Store) { seedSession(store, testKey, "4821", now.Add(300*time.Second)) },
			sub:     newSub("dev-1"),
			at:      now.Add(310 * time.Second),
			wantErr: ErrInvalidOrExpiredCode,
		},
		{
			name: "expired code wins over invalid input",
			seed: func(store *inmem.Store) { seedSession(store, testKey, "4821", now.Add(300*time.Second)) },
			sub: NewSubmission{
				Code: "4821", Surname: "", OtherNames: "", Matric: "nope", DeviceID: "dev-1",
			},
			at:      now.Add(310 * time.Second),
			wantErr: ErrInvalidOrExpiredCode,
		},
		{
			name: "invalid input wins over used device",
			seed: func(store *inmem.Store) {
				seedSession(store, testKey, "4821", now.Add(300*time.Second))
				store.Seed(devicesPath, []byte(`{"dev-used": "20230000000"}`))
			},
			sub: NewSubmission{
				Code: "4821", Surname: "Doe", OtherNames: "Jane", Matric: "1234567890", DeviceID: "dev-used",
			},
			wantVal: true,
		},
		{
			name: "used device with fresh identity",
			seed: func(store *inmem.Store) {
				seedSession(store, testKey, "4821", now.Add(300*time.Second))
				store.Seed(devicesPath, []byte(`{"dev-used": "20230000000"}`))
			},
			sub:     newSub("dev-used"),
			wantErr: ErrDeviceAlreadyUsed,
		},
		{
			name: "duplicate matric with different name",
			seed: func(store *inmem.Store) {
				seedSession(store, testKey, "4821", now.Add(300*time.Second))
				store.Seed(testKey.LedgerPath(),
					[]byte(`[{"S/N": 1, "Full Name": "Someone Else", "Matric Number": "20231234567", "Time": "2026-09-01 08:00:00"}]`))
			},
			sub:     newSub("dev-1"),
			wantErr: ErrDuplicateSubmission,
		},
		{
			name: "duplicate name case-insensitive",
			seed: func(store *inmem.Store) {
				seedSession(store, testKey, "4821", now.Add(300*time.Second))
				store.Seed(testKey.LedgerPath(),
					[]byte(`[{"S/N": 1, "Full Name": "DOE JANE", "Matric Number": "20239999999", "Time": "2026-09-01 08:00:00"}]`))
			},
			sub:     newSub("dev-1"),
			wantErr: ErrDuplicateSubmission,
		},
		{
			name: "used device wins over duplicate",
			seed: func(store *inmem.Store) {
				seedSession(store, testKey, "4821", now.Add(300*time.Second))
				store.Seed(devicesPath, []byte(`{"dev-used": "20230000000"}`))
				store.Seed(testKey.LedgerPath(),
					[]byte(`[{"S/N": 1, "Full Name": "Doe Jane", "Matric Number": "20231234567", "Time": "2026-09-01 08:00:00"}]`))
			},
			sub:     newSub("dev-used"),
			wantErr: ErrDeviceAlreadyUsed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := inmem.New()
			svc, _ := newTestService(store)
			tt.seed(store)

			if !tt.at.IsZero() {
				at := tt.at
				nowFunc = func() time.Time { return at }
				defer func() { nowFunc = time.Now }()
			}

			_, err := svc.Submit(context.Background(), testKey, tt.sub)
			if tt.wantVal {
				if _, ok := errors.Cause(err).(validator.ValidationErrors); !ok {
					t.Fatalf("Submit() error = %v (%T), want validator.ValidationErrors", err, err)
				}
				return
			}
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// a racing writer lands between our read and our write; the retry must re-read
// and re-validate before writing again
func TestSubmitConflictRetry(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	seedSession(store, testKey, "4821", time.Now().Add(300*time.Second))

	raced := false
	store.BeforeWrite = func(path string) {
		if path == testKey.LedgerPath() && !raced {
			raced = true
			store.Seed(path,
				[]byte(`[{"S/N": 1, "Full Name": "Obi Eze", "Matric Number": "20231234568", "Time": "2026-09-01 08:00:00"}]`))
		}
	}

	rec, err := svc.Submit(context.Background(), testKey, newSub("dev-1"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.SN != 2 {
		t.Errorf("SN = %d, want 2 (after racer)", rec.SN)
	}

	ledger, err := decodeLedger(store.Contents(testKey.LedgerPath()))
	if err != nil {
		t.Fatalf("decodeLedger() error = %v", err)
	}
	if len(ledger) != 2 || ledger[0].SN != 1 || ledger[1].SN != 2 {
		t.Errorf("ledger = %+v, want racer then ours with consecutive SNs", ledger)
	}
}

func TestSubmitConflictRevealsDuplicate(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	seedSession(store, testKey, "4821", time.Now().Add(300*time.Second))

	// the racer submits the same matric; after the forced re-read our attempt
	// must be rejected, not appended
	raced := false
	store.BeforeWrite = func(path string) {
		if path == testKey.LedgerPath() && !raced {
			raced = true
			store.Seed(path,
				[]byte(`[{"S/N": 1, "Full Name": "Someone Else", "Matric Number": "20231234567", "Time": "2026-09-01 08:00:00"}]`))
		}
	}

	_, err := svc.Submit(context.Background(), testKey, newSub("dev-1"))
	if errors.Cause(err) != ErrDuplicateSubmission {
		t.Fatalf("Submit() error = %v, want %v", err, ErrDuplicateSubmission)
	}

	ledger, err := decodeLedger(store.Contents(testKey.LedgerPath()))
	if err != nil {
		t.Fatalf("decodeLedger() error = %v", err)
	}
	if len(ledger) != 1 {
		t.Errorf("ledger has %d records, want 1 (ours rejected)", len(ledger))
	}
}

func TestSubmitTooManyConflicts(t *testing.T) {
	store := inmem.New()
	svc, conf := newTestService(store)
	seedSession(store, testKey, "4821", time.Now().Add(300*time.Second))

	n := 0
	store.BeforeWrite = func(path string) {
		if path == testKey.LedgerPath() {
			n++
			store.Seed(path, []byte(fmt.Sprintf(
				`[{"S/N": 1, "Full Name": "Racer %d", "Matric Number": "2023000%04d", "Time": "2026-09-01 08:00:00"}]`, n, n,
			)))
		}
	}

	_, err := svc.Submit(context.Background(), testKey, newSub("dev-1"))
	if errors.Cause(err) != ErrTooManyConflicts {
		t.Fatalf("Submit() error = %v, want %v", err, ErrTooManyConflicts)
	}
	if n != conf.MaxWriteAttempts {
		t.Errorf("ledger write attempts = %d, want %d", n, conf.MaxWriteAttempts)
	}
}

// store wrapper that fails every write to one path
type flakyStore struct {
	*inmem.Store
	failPath string
}

func (s *flakyStore) Write(ctx context.Context, path string, content []byte, version, message string) (string, error) {
	if path == s.failPath {
		return "", &core.TransportError{Op: "write", Path: path, Err: errors.New("connection reset")}
	}
	return s.Store.Write(ctx, path, content, version, message)
}

func TestSubmitPartialWrite(t *testing.T) {
	backing := inmem.New()
	store := &flakyStore{Store: backing, failPath: devicesPath}
	svc, conf := newTestService(store)
	seedSession(backing, testKey, "4821", time.Now().Add(300*time.Second))

	rec, err := svc.Submit(context.Background(), testKey, newSub("dev-1"))

	var perr *PartialWriteError
	if !errors.As(err, &perr) {
		t.Fatalf("Submit() error = %v (%T), want *PartialWriteError", err, err)
	}
	if rec.SN != 1 || perr.Record != rec {
		t.Errorf("record = %+v, partial record = %+v; want matching SN 1", rec, perr.Record)
	}

	// the ledger entry must be durable even though the device was not marked
	ledger, err := decodeLedger(backing.Contents(testKey.LedgerPath()))
	if err != nil {
		t.Fatalf("decodeLedger() error = %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("ledger has %d records, want 1", len(ledger))
	}
	if backing.Contents(devicesPath) != nil {
		t.Error("device registry written, want untouched")
	}

	// operator follow-up mail
	msgs := emailsvc.GetSentMessages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d operator mails, want 1", len(msgs))
	}
	if got, want := msgs[0].To[0].Address, conf.OperatorEmail.Address; got != want {
		t.Errorf("alert sent to %q, want %q", got, want)
	}
}

func TestRotateCurrentClose(t *testing.T) {
	store := inmem.New()
	svc, conf := newTestService(store)
	ctx := context.Background()

	active, err := svc.IsActive(ctx, testKey)
	if err != nil {
		t.Fatalf("IsActive() error = %v", err)
	}
	if active {
		t.Error("IsActive() = true before opening")
	}

	sess, err := svc.Rotate(ctx, testKey)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if len(sess.Token) != 4 {
		t.Errorf("Token = %q, want 4 digits", sess.Token)
	}
	wantExpiry := nowFunc().Add(conf.TokenValidity)
	if diff := sess.ExpiresAt(conf.Timezone).Sub(wantExpiry); diff < -2*time.Second || diff > 2*time.Second {
		t.Errorf("expiry = %v, want ~%v", sess.ExpiresAt(conf.Timezone), wantExpiry)
	}

	if active, err = svc.IsActive(ctx, testKey); err != nil || !active {
		t.Errorf("IsActive() = %v, %v; want true, nil", active, err)
	}

	cur, err := svc.Current(ctx, testKey)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cur.Token != sess.Token || cur.Expiry != sess.Expiry {
		t.Errorf("Current() = %+v, want %+v", cur, sess)
	}

	// rotation replaces the entry for this key only
	again, err := svc.Rotate(ctx, testKey)
	if err != nil {
		t.Fatalf("Rotate() again error = %v", err)
	}
	if cur, _ = svc.Current(ctx, testKey); cur.Token != again.Token {
		t.Errorf("Current().Token = %q, want rotated %q", cur.Token, again.Token)
	}

	if err = svc.Close(ctx, testKey); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if active, _ = svc.IsActive(ctx, testKey); active {
		t.Error("IsActive() = true after Close()")
	}
	if err = svc.Close(ctx, testKey); errors.Cause(err) != ErrNoActiveSession {
		t.Errorf("Close() again error = %v, want %v", err, ErrNoActiveSession)
	}
}

// a window past its expiry still lists as active; only submissions see the expiry
func TestIsActivePastExpiry(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	seedSession(store, testKey, "4821", time.Now().Add(-time.Minute))

	active, err := svc.IsActive(context.Background(), testKey)
	if err != nil {
		t.Fatalf("IsActive() error = %v", err)
	}
	if !active {
		t.Error("IsActive() = false, want true for expired-but-open window")
	}

	_, err = svc.Submit(context.Background(), testKey, newSub("dev-1"))
	if errors.Cause(err) != ErrInvalidOrExpiredCode {
		t.Errorf("Submit() error = %v, want %v", err, ErrInvalidOrExpiredCode)
	}
}

func TestSessionKeysIndependent(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	otherKey := SessionKey{School: "SICT", Department: "Cyber Security", Level: 200}
	seedSession(store, testKey, "4821", time.Now().Add(300*time.Second))

	if _, err := svc.Submit(context.Background(), otherKey, newSub("dev-1")); errors.Cause(err) != ErrNoActiveSession {
		t.Errorf("Submit(other key) error = %v, want %v", err, ErrNoActiveSession)
	}
}

// the device registry is store-wide: a device used in one session is blocked in all
func TestDeviceRegistryGlobalScope(t *testing.T) {
	store := inmem.New()
	svc, _ := newTestService(store)
	otherKey := SessionKey{School: "SICT", Department: "Cyber Security", Level: 200}

	now := time.Now()
	store.Seed(sessionsPath, []byte(fmt.Sprintf(
		`{"%s": {"current_token": "4821", "expiry": %d}, "%s": {"current_token": "4821", "expiry": %d}}`,
		testKey, now.Add(300*time.Second).Unix(), otherKey, now.Add(300*time.Second).Unix(),
	)))

	if _, err := svc.Submit(context.Background(), testKey, newSub("dev-1")); err != nil {
		t.Fatalf("Submit(first session) error = %v", err)
	}

	other := NewSubmission{Code: "4821", Surname: "Obi", OtherNames: "Eze", Matric: "20231234568", DeviceID: "dev-1"}
	if _, err := svc.Submit(context.Background(), otherKey, other); errors.Cause(err) != ErrDeviceAlreadyUsed {
		t.Errorf("Submit(second session, same device) error = %v, want %v", err, ErrDeviceAlreadyUsed)
	}
}
