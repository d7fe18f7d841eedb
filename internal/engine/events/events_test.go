package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hoardr-dl/hoardr/internal/engine/types"
)

func TestSnapshotTerminal(t *testing.T) {
	s := Snapshot{Completed: 3, Failed: 1, Skipped: 2, Cancelled: 4, Pending: 7, Active: 1}
	if got := s.Terminal(); got != 10 {
		t.Errorf("Terminal() = %d, want 10", got)
	}
}

func TestTaskFailedMsgJSON(t *testing.T) {
	msg := TaskFailedMsg{
		JobID:    "job-1",
		Source:   "rule34",
		ID:       "42",
		Filename: "42.png",
		Attempts: 5,
		Err:      errors.New("unexpected status 502 fetching x"),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var decoded TaskFailedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.JobID != msg.JobID || decoded.ID != msg.ID || decoded.Attempts != msg.Attempts {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Err == nil || decoded.Err.Error() != msg.Err.Error() {
		t.Errorf("error text lost: %v", decoded.Err)
	}
}

func TestTaskFailedMsgJSONNilError(t *testing.T) {
	data, err := json.Marshal(TaskFailedMsg{JobID: "j", ID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	var decoded TaskFailedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Err != nil {
		t.Errorf("nil error round-tripped to %v", decoded.Err)
	}
}

func TestTaskErrorJSON(t *testing.T) {
	e := TaskError{DescriptorID: "9", Kind: types.KindTransient, Message: "timeout"}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded TaskError
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != e {
		t.Errorf("decoded = %+v, want %+v", decoded, e)
	}
}
