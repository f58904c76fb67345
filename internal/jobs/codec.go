package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/geocoder89/rsvphub/internal/domain/job"
)

// recordVersion is bumped whenever the wire shape of a job changes.
const recordVersion = 1

// record is the transport envelope of a job: what a broker stores and what a
// worker reads back.
type record struct {
	Version int     `json:"v"`
	Job     job.Job `json:"job"`
}

// Encode validates j and serializes it for transport.
func Encode(j job.Job) ([]byte, error) {
	if err := Validate(j); err != nil {
		return nil, err
	}

	b, err := json.Marshal(record{Version: recordVersion, Job: j})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return b, nil
}

// Decode is the inverse of Encode. A record that does not validate is an
// error so that a poisoned message never reaches the notifier.
func Decode(b []byte) (job.Job, error) {
	if len(b) == 0 {
		return job.Job{}, ErrInvalidJobPayload
	}

	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return job.Job{}, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	if r.Version != recordVersion {
		return job.Job{}, fmt.Errorf("%w: v%d", ErrUnsupportedFormat, r.Version)
	}
	if err := Validate(r.Job); err != nil {
		return job.Job{}, err
	}
	return r.Job, nil
}
