package store

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"wristnode/internal/model"
)

// RecordStore is the append-only log of consolidated records. It owns only
// the framing (fixed record width, back to back, no header or index) and the
// iteration semantics; the bytes live in the Blob collaborator. Sequential
// scan is the only access pattern.
type RecordStore struct {
	blob   Blob
	logger *zap.Logger
}

func NewRecordStore(blob Blob, logger *zap.Logger) *RecordStore {
	return &RecordStore{blob: blob, logger: logger}
}

// Append writes one record to the end of the log. A transient write failure
// is retried once before being surfaced.
func (s *RecordStore) Append(rec model.ConsolidatedRecord) error {
	data := rec.MarshalBinary()

	err := s.blob.Append(data)
	if err != nil {
		s.logger.Warn("record append failed, retrying once", zap.Error(err))
		err = s.blob.Append(data)
	}
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Count reports how many complete records the log holds. A short trailing
// record (interrupted write) is excluded, not treated as corruption.
func (s *RecordStore) Count() (int, error) {
	size, err := s.blob.Size()
	if err != nil {
		return 0, fmt.Errorf("record count: %w", err)
	}
	return int(size / model.RecordSize), nil
}

// ForEach streams records oldest to newest, stopping early when visit
// returns false. A short trailing record is treated as end-of-stream.
func (s *RecordStore) ForEach(visit func(rec model.ConsolidatedRecord, index int) bool) error {
	r, err := s.blob.Open()
	if err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	defer r.Close()

	buf := make([]byte, model.RecordSize)
	for index := 0; ; index++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read record %d: %w", index, err)
		}
		rec, err := model.UnmarshalRecord(buf)
		if err != nil {
			return fmt.Errorf("decode record %d: %w", index, err)
		}
		if !visit(rec, index) {
			return nil
		}
	}
}

// Erase truncates the log to empty. Erasing an already-empty log succeeds.
func (s *RecordStore) Erase() error {
	if err := s.blob.Remove(); err != nil {
		return fmt.Errorf("erase records: %w", err)
	}
	s.logger.Info("record log erased")
	return nil
}
