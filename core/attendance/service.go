package attendance

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/ulasproject/ulas/core"
)

var (
	// errors
	ErrNoActiveSession      = errors.New("no active attendance for this level in this department")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrDeviceAlreadyUsed    = errors.New("this device has already submitted attendance")
	ErrDuplicateSubmission  = errors.New("duplicate name or matric detected")
	ErrTooManyConflicts     = errors.New("the attendance store is busy, please try again")
)

// PartialWriteError reports a submission whose ledger entry is durably recorded
// but whose device-registry update failed. It is success for the submitter and a
// follow-up condition for the operator; it must never be collapsed into either a
// plain success or a plain failure.
type PartialWriteError struct {
	Record Record
	Err    error
}

func (e *PartialWriteError) Error() string {
	return "attendance recorded but device not marked: " + e.Err.Error()
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Service owns the attendance session lifecycle and the submission path. All
// durable state lives in the data FileStore; every mutation is a fresh
// read-validate-write cycle arbitrated by the store's compare-and-swap.
type Service struct {
	store   core.FileStore // durable owner of sessions, ledgers and the device registry
	archive core.FileStore // side artifacts only (CSV exports); never authoritative
	mail    core.EmailService
	logger  core.Logger
	conf    *core.Config
}

func NewService(store, archive core.FileStore, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		store:   store,
		archive: archive,
		mail:    mailSvc,
		logger:  logger,
		conf:    conf,
	}
}

func (svc *Service) attempts() int {
	if svc.conf.MaxWriteAttempts > 0 {
		return svc.conf.MaxWriteAttempts
	}
	return 1
}

// IsActive reports whether an attendance window exists for the key. Existence,
// not expiry: an entry past its expiry still lists as active and rejects every
// submission with ErrInvalidOrExpiredCode until it is rotated or closed.
func (svc *Service) IsActive(ctx context.Context, key SessionKey) (bool, error) {
	sessions, _, err := svc.loadSessions(ctx)
	if err != nil {
		return false, err
	}
	_, ok := sessions[key.String()]
	return ok, nil
}

// Current returns the live token and expiry for the key.
func (svc *Service) Current(ctx context.Context, key SessionKey) (Session, error) {
	sessions, _, err := svc.loadSessions(ctx)
	if err != nil {
		return Session{}, err
	}
	sess, ok := sessions[key.String()]
	if !ok {
		return Session{}, ErrNoActiveSession
	}
	sess.Key = key
	return sess, nil
}

// Rotate issues a fresh 4-digit token and expiry for the key, creating the
// window if it does not exist yet. Opening and rotating are the same write.
func (svc *Service) Rotate(ctx context.Context, key SessionKey) (Session, error) {
	for attempt := 0; attempt < svc.attempts(); attempt++ {
		sessions, version, err := svc.loadSessions(ctx)
		if err != nil {
			return Session{}, err
		}

		sess := Session{
			Key:    key,
			Token:  generateToken(),
			Expiry: nowFunc().Add(svc.conf.TokenValidity).Unix(),
		}
		sessions[key.String()] = sess

		content, err := encodeBlob(sessions)
		if err != nil {
			return Session{}, err
		}
		_, err = svc.store.Write(ctx, sessionsPath, content, version, "Open attendance "+key.String())
		if errors.Cause(err) == core.ErrVersionConflict {
			continue
		}
		if err != nil {
			return Session{}, errors.Wrap(err, "writing sessions")
		}
		return sess, nil
	}
	return Session{}, ErrTooManyConflicts
}

// Close removes the attendance window for the key.
func (svc *Service) Close(ctx context.Context, key SessionKey) error {
	for attempt := 0; attempt < svc.attempts(); attempt++ {
		sessions, version, err := svc.loadSessions(ctx)
		if err != nil {
			return err
		}
		if _, ok := sessions[key.String()]; !ok {
			return ErrNoActiveSession
		}
		delete(sessions, key.String())

		content, err := encodeBlob(sessions)
		if err != nil {
			return err
		}
		_, err = svc.store.Write(ctx, sessionsPath, content, version, "Close attendance "+key.String())
		if errors.Cause(err) == core.ErrVersionConflict {
			continue
		}
		return errors.Wrap(err, "writing sessions")
	}
	return ErrTooManyConflicts
}

// Submit validates one submission attempt against fresh store state and, on
// acceptance, appends it to the session ledger then marks the device as used.
// A stale ledger snapshot fails the compare-and-swap write; the whole cycle
// (read AND validate) reruns so a racing near-duplicate cannot slip in.
func (svc *Service) Submit(ctx context.Context, key SessionKey, ns NewSubmission) (Record, error) {
	for attempt := 0; attempt < svc.attempts(); attempt++ {
		rec, err := svc.trySubmit(ctx, key, ns)
		if errors.Cause(err) == core.ErrVersionConflict {
			continue
		}
		return rec, err
	}
	return Record{}, ErrTooManyConflicts
}

func (svc *Service) trySubmit(ctx context.Context, key SessionKey, ns NewSubmission) (Record, error) {
	sessions, _, err := svc.loadSessions(ctx)
	if err != nil {
		return Record{}, err
	}
	sess, ok := sessions[key.String()]
	if !ok {
		return Record{}, ErrNoActiveSession
	}

	// an incorrect or stale code must not leak duplicate status: checked first
	now := nowFunc().In(svc.conf.Timezone)
	ns.Clean()
	if ns.Code != sess.Token || !now.Before(sess.ExpiresAt(svc.conf.Timezone)) {
		return Record{}, ErrInvalidOrExpiredCode
	}

	if err = ns.Validate(); err != nil {
		return Record{}, err
	}

	devices, _, err := svc.loadDevices(ctx)
	if err != nil {
		return Record{}, err
	}
	if _, used := devices[ns.DeviceID]; used {
		return Record{}, ErrDeviceAlreadyUsed
	}

	ledger, version, err := svc.loadLedger(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if ledger.HasName(ns.FullName()) || ledger.HasMatric(ns.Matric) {
		return Record{}, ErrDuplicateSubmission
	}

	rec := Record{
		SN:       len(ledger) + 1,
		FullName: ns.FullName(),
		Matric:   ns.Matric,
		Time:     now.Format(timeLayout),
	}
	content, err := encodeBlob(append(ledger, rec))
	if err != nil {
		return Record{}, err
	}
	if _, err = svc.store.Write(ctx, key.LedgerPath(), content, version, "Update attendance "+key.String()); err != nil {
		return Record{}, errors.Wrap(err, "writing ledger")
	}

	// the ledger entry is durable at this point; the device is marked second so
	// a device is only burned once its record exists
	if err = svc.markDevice(ctx, ns.DeviceID, ns.Matric); err != nil {
		svc.alertPartialWrite(key, rec, ns.DeviceID, err)
		return rec, &PartialWriteError{Record: rec, Err: err}
	}
	return rec, nil
}

func (svc *Service) markDevice(ctx context.Context, deviceID, matric string) error {
	for attempt := 0; attempt < svc.attempts(); attempt++ {
		devices, version, err := svc.loadDevices(ctx)
		if err != nil {
			return err
		}
		devices[deviceID] = matric

		content, err := encodeBlob(devices)
		if err != nil {
			return err
		}
		_, err = svc.store.Write(ctx, devicesPath, content, version, "Register device for "+matric)
		if errors.Cause(err) == core.ErrVersionConflict {
			continue
		}
		return errors.Wrap(err, "writing device registry")
	}
	return ErrTooManyConflicts
}

func (svc *Service) alertPartialWrite(key SessionKey, rec Record, deviceID string, err error) {
	msg := fmt.Sprintf(
		"attendance %s: record %d (%s, %s) is recorded but device %s was not marked: %v",
		key, rec.SN, rec.FullName, rec.Matric, deviceID, err,
	)
	svc.logger.Error(msg, err)
	svc.mail.SendMessages(&core.EmailMessage{
		To:      []mail.Address{svc.conf.OperatorEmail},
		Subject: "device registry update failed",
		BodyStr: msg,
	})
}

// blob loaders; a missing blob is an empty collection, a malformed one is an error.

func (svc *Service) loadSessions(ctx context.Context) (sessionMap, string, error) {
	f, err := svc.store.Read(ctx, sessionsPath)
	if errors.Cause(err) == core.ErrFileNotFound {
		return make(sessionMap), "", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "reading sessions")
	}
	sessions, err := decodeSessions(f.Content)
	if err != nil {
		return nil, "", err
	}
	return sessions, f.Version, nil
}

func (svc *Service) loadDevices(ctx context.Context) (deviceMap, string, error) {
	f, err := svc.store.Read(ctx, devicesPath)
	if errors.Cause(err) == core.ErrFileNotFound {
		return make(deviceMap), "", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "reading device registry")
	}
	devices, err := decodeDevices(f.Content)
	if err != nil {
		return nil, "", err
	}
	return devices, f.Version, nil
}

func (svc *Service) loadLedger(ctx context.Context, key SessionKey) (Ledger, string, error) {
	f, err := svc.store.Read(ctx, key.LedgerPath())
	if errors.Cause(err) == core.ErrFileNotFound {
		return Ledger{}, "", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "reading ledger")
	}
	ledger, err := decodeLedger(f.Content)
	if err != nil {
		return nil, "", err
	}
	return ledger, f.Version, nil
}
