package repo

import (
	"encoding/json"
	"fmt"

	"pageforge/internal/domain"
)

func encodeStageLog(log domain.StageLog) ([]byte, error) {
	if log == nil {
		log = domain.StageLog{}
	}
	b, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("encode stage log: %w", err)
	}
	return b, nil
}

func decodeStageLog(raw []byte) (domain.StageLog, error) {
	if len(raw) == 0 {
		return domain.StageLog{}, nil
	}
	var log domain.StageLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("decode stage log: %w", err)
	}
	return log, nil
}

// classifyMiss explains why a conditional write touched no rows.
func classifyMiss(job *domain.Job, err error, fallback error) error {
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return domain.ErrTerminal
	}
	return fallback
}
