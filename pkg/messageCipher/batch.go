package messageCipher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/i5heu/cipherroom/pkg/primitives"
	workerpool "github.com/i5heu/cipherroom/pkg/workerPool"
)

// Entry is one stored message from a history batch.
type Entry struct {
	ID        string
	Timestamp time.Time
	IV        []byte
	Data      []byte
}

// Decrypted is an Entry whose payload could be opened.
type Decrypted struct {
	ID        string
	Timestamp time.Time
	Payload   Payload
}

// BatchResult keeps the decrypted messages in input order and counts what
// had to be dropped.
type BatchResult struct {
	Messages []Decrypted
	Skipped  int
}

type opened struct {
	msg Decrypted
	err error
}

// batches below this size are opened inline
const parallelThreshold = 16

var decryptPool = sync.OnceValue(func() *workerpool.WorkerPool {
	return workerpool.NewWorkerPool(workerpool.Config{})
})

// DecryptBatch opens every entry independently. Failures are logged at
// debug level and skipped; they never abort the batch. Entries not opened
// before ctx ends count as skipped.
func DecryptBatch(ctx context.Context, entries []Entry, roomKey *primitives.SymmetricKey, logger *slog.Logger) BatchResult { // A
	if logger == nil {
		logger = slog.Default()
	}

	open := func(e Entry) opened {
		p, err := OpenPayload(e.IV, e.Data, roomKey)
		if err != nil {
			return opened{msg: Decrypted{ID: e.ID}, err: err}
		}
		return opened{msg: Decrypted{ID: e.ID, Timestamp: e.Timestamp, Payload: p}}
	}

	var results []opened
	if len(entries) < parallelThreshold {
		results = make([]opened, 0, len(entries))
		for _, e := range entries {
			results = append(results, open(e))
		}
	} else {
		batch := workerpool.NewBatch[opened](decryptPool(), len(entries))
		for _, e := range entries {
			e := e
			if err := batch.Submit(ctx, func() opened { return open(e) }); err != nil {
				break
			}
		}
		results = batch.Collect()
	}

	res := BatchResult{
		Messages: make([]Decrypted, 0, len(results)),
		Skipped:  len(entries) - len(results),
	}
	for _, r := range results {
		if r.err != nil {
			res.Skipped++
			logger.DebugContext(ctx, "skipping undecryptable message",
				"messageId", r.msg.ID, "error", r.err)
			continue
		}
		res.Messages = append(res.Messages, r.msg)
	}
	return res
}
