package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/echoreplay/internal/aggregator"
	"github.com/MrWong99/echoreplay/internal/observe"
	"github.com/MrWong99/echoreplay/pkg/audio"
	"github.com/MrWong99/echoreplay/pkg/sink"
)

// livePlayerQueueCap bounds how many flushed units may wait per source. Units
// arrive at most once per quiet period, so a small backlog only builds when
// the sink falls behind real time.
const livePlayerQueueCap = 16

// PlayerOption configures a [LivePlayer].
type PlayerOption func(*LivePlayer)

// WithPlayerGain sets the gain applied to units of one source.
func WithPlayerGain(src aggregator.Source, gain float64) PlayerOption {
	return func(p *LivePlayer) {
		p.gains[src] = gain
	}
}

// WithPlayerTextSink wires a text sink for degradation notices, e.g. units
// trimmed by the aggregator's concatenation caps.
func WithPlayerTextSink(text sink.TextSink) PlayerOption {
	return func(p *LivePlayer) {
		p.text = text
	}
}

// WithPlayerMetrics wires live playback instrumentation.
func WithPlayerMetrics(m *observe.Metrics) PlayerOption {
	return func(p *LivePlayer) {
		p.metrics = m
	}
}

// LivePlayer plays aggregator units during live capture. Each source owns one
// queue drained by one goroutine, so units of the same source play strictly
// in order and never overlap, while user and AI audio still play
// independently. [LivePlayer.Handle] never blocks, which makes it safe to
// wire directly as the aggregator's PlaybackStart handler.
type LivePlayer struct {
	out     sink.AudioSink
	text    sink.TextSink
	gains   map[aggregator.Source]float64
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	queues map[aggregator.Source]chan audio.ConcatResult
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLivePlayer starts one playback goroutine per source and returns the
// player. Call [LivePlayer.Close] to stop them.
func NewLivePlayer(out sink.AudioSink, opts ...PlayerOption) *LivePlayer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &LivePlayer{
		out:    out,
		gains:  map[aggregator.Source]float64{},
		ctx:    ctx,
		cancel: cancel,
		queues: map[aggregator.Source]chan audio.ConcatResult{
			aggregator.SourceUser: make(chan audio.ConcatResult, livePlayerQueueCap),
			aggregator.SourceAI:   make(chan audio.ConcatResult, livePlayerQueueCap),
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	for src := range p.queues {
		p.wg.Add(1)
		go p.drain(src)
	}
	return p
}

// Handle enqueues one flushed unit for playback. It never blocks: when the
// source's queue is full the unit is dropped with a warning rather than
// stalling the aggregator's timer goroutine.
func (p *LivePlayer) Handle(src aggregator.Source, unit audio.ConcatResult) {
	if p.metrics != nil {
		p.metrics.AggregatorFlushes.Add(p.ctx, 1,
			metric.WithAttributes(attribute.String("source", src.String())))
	}

	select {
	case p.queues[src] <- unit:
	case <-p.ctx.Done():
	default:
		slog.Warn("live playback backlog full, dropping unit",
			"source", src.String(), "duration", unit.Buffer.Duration())
		if p.metrics != nil {
			p.metrics.RecordDegradation(p.ctx, "live_backlog")
		}
	}
}

// Close stops all playback goroutines and waits for them to exit. In-flight
// playback is cancelled; queued units are discarded.
func (p *LivePlayer) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// drain plays units of one source back to back, waiting for each unit's
// completion before starting the next.
func (p *LivePlayer) drain(src aggregator.Source) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case unit := <-p.queues[src]:
			p.play(src, unit)
		}
	}
}

func (p *LivePlayer) play(src aggregator.Source, unit audio.ConcatResult) {
	if unit.Truncated {
		slog.Warn("live unit truncated by concatenation caps",
			"source", src.String(), "chunks", unit.ChunkCount)
		if p.text != nil {
			p.text.Status(fmt.Sprintf("%s audio exceeded concatenation caps; trailing chunks dropped", src))
		}
		if p.metrics != nil {
			p.metrics.RecordDegradation(p.ctx, "live_truncation")
		}
	}

	gain := p.gains[src]
	if gain <= 0 {
		gain = 1.0
	}
	done, err := p.out.Play(p.ctx, unit.Buffer, gain)
	if err != nil {
		slog.Error("live playback failed", "source", src.String(), "err", err)
		return
	}
	select {
	case <-done:
	case <-p.ctx.Done():
	}
}
