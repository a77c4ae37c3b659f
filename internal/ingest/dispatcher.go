// Package ingest is the position-report pipeline shared by both
// transports. A raw packet from UDP or HTTP enters Enqueue/ProcessSync,
// is parsed, authenticated, merged into the position store, and answered
// with an ACK.
//
// Ordering: packets are pinned to a worker by hashing the tracker id, so
// one tracker's packets are processed in arrival order while different
// trackers proceed in parallel. The UDP reader never blocks: when a
// worker queue is full the datagram is dropped and counted.
package ingest

import (
	"context"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/logger"
	"github.com/seatrack-dev/seatrack/internal/packet"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/store"
)

// Result is the outcome of processing one raw packet.
type Result struct {
	// Ack is the reply body; nil means drop silently (UDP datagram with
	// no readable sq).
	Ack *Ack

	// Status is the HTTP status for the reply. Auth failures are 200 so
	// mobile clients parse every ACK the same way.
	Status int
}

// job carries one raw packet through a worker.
type job struct {
	raw    []byte
	source string
	done   chan Result
	reply  func([]byte)
}

// Dispatcher fans raw packets out to the worker pool.
type Dispatcher struct {
	reg   *registry.Registry
	store *store.Store

	queues []chan job
	wg     sync.WaitGroup

	dropped atomic.Uint64
	log     zerolog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher with workers goroutines, each owning
// a queue of depth slots.
func NewDispatcher(reg *registry.Registry, st *store.Store, workers, depth int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		reg:    reg,
		store:  st,
		queues: make([]chan job, workers),
		log:    *logger.Ingest(),
		now:    time.Now,
	}
	for i := range d.queues {
		d.queues[i] = make(chan job, depth)
	}
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for _, q := range d.queues {
		d.wg.Add(1)
		go d.worker(q)
	}
}

// Stop closes the queues and waits for in-flight work to drain.
func (d *Dispatcher) Stop() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}

// Dropped returns how many datagrams were discarded on full queues.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *Dispatcher) worker(q chan job) {
	defer d.wg.Done()
	for j := range q {
		res := d.process(j.raw, j.source)
		if j.done != nil {
			j.done <- res
		}
		if j.reply != nil && res.Ack != nil {
			j.reply(res.Ack.Encode())
		}
	}
}

// pin maps a tracker id onto a worker index so one tracker is always
// handled by the same worker.
func (d *Dispatcher) pin(raw []byte) int {
	id := packet.PeekID(raw)
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Enqueue hands a datagram to its pinned worker without blocking. reply
// is invoked from the worker with the encoded ACK, if one is owed.
func (d *Dispatcher) Enqueue(raw []byte, source string, reply func([]byte)) {
	q := d.queues[d.pin(raw)]
	select {
	case q <- job{raw: raw, source: source, reply: reply}:
	default:
		n := d.dropped.Add(1)
		if n%100 == 1 {
			d.log.Warn().Uint64("dropped", n).Msg("worker queue full, dropping datagrams")
		}
	}
}

// ProcessSync runs a packet through its pinned worker and waits for the
// result. Used by the HTTP path so HTTP and UDP packets from the same
// tracker stay ordered.
func (d *Dispatcher) ProcessSync(ctx context.Context, raw []byte, source string) (Result, error) {
	done := make(chan Result, 1)
	q := d.queues[d.pin(raw)]
	select {
	case q <- job{raw: raw, source: source, done: done}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// process is the single packet pipeline: parse, authenticate, store, ACK.
func (d *Dispatcher) process(raw []byte, source string) Result {
	recv := d.now()

	p, perr := packet.Parse(raw)
	if perr != nil {
		return d.failResult(raw, recv, perr)
	}

	eventName := ""
	if ev, ok := d.reg.Lookup(p.EID); ok {
		eventName = ev.Name
	}

	if aerr := d.reg.AuthenticateTracker(p.EID, p.Pwd, source); aerr != nil {
		ack := &Ack{Ack: p.Seq, TS: recv.Unix(), Event: eventName, Error: aerr.Kind, Msg: aerr.Message}
		// Failed auth is reported in the ACK body, never as a transport
		// error, except rate limiting which also surfaces as 429.
		status := http.StatusOK
		if aerr.Kind == apperr.KindRateLimited {
			status = http.StatusTooManyRequests
		}
		return Result{Ack: ack, Status: status}
	}

	assistEnabled := d.reg.AssistEnabledFor(p.EID)

	if p.AuthCheck {
		ack := &Ack{Ack: p.Seq, TS: recv.Unix(), Event: eventName}
		if !assistEnabled {
			ack.withAssistDisabled()
		}
		return Result{Ack: ack, Status: http.StatusOK}
	}

	d.store.Accept(p, recv)

	ack := &Ack{Ack: p.Seq, TS: recv.Unix(), Event: eventName}
	if !assistEnabled {
		ack.withAssistDisabled()
	}
	return Result{Ack: ack, Status: http.StatusOK}
}

// failResult builds the reply for a packet that failed validation. With a
// readable sq the error rides in an ACK; otherwise UDP drops silently and
// HTTP answers a bare error body.
func (d *Dispatcher) failResult(raw []byte, recv time.Time, perr *apperr.AppError) Result {
	if sq, ok := packet.ReadSeq(raw); ok {
		return Result{
			Ack:    &Ack{Ack: sq, TS: recv.Unix(), Error: perr.Kind, Msg: perr.Message},
			Status: perr.StatusCode,
		}
	}
	return Result{Ack: nil, Status: perr.StatusCode}
}
