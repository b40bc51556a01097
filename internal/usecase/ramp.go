package usecase

import (
	"context"
	"time"

	"chatbot/internal/domain"
)

// beginRamp silences speech output and counts progress up to domain.MaxProgress, after
// which the microphone is reopened.
func (c *VoiceConversationController) beginRamp(from int) {
	c.cancelRamp()
	c.output.Stop()

	c.rampSeq++
	ctx, cancel := context.WithCancel(c.ctx)
	c.rampCancel = cancel
	go c.runRamp(ctx, c.rampSeq, from, c.cfg.RampStep)
}

// cancelRamp supersedes the active ramp; ticks it already queued are discarded.
func (c *VoiceConversationController) cancelRamp() {
	if c.rampCancel == nil {
		return
	}
	c.rampCancel()
	c.rampCancel = nil
}

func (c *VoiceConversationController) runRamp(ctx context.Context, seq uint64, from int, step time.Duration) {
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for progress := from; progress <= domain.MaxProgress; progress++ {
		if ctx.Err() != nil || !c.post(rampTick{seq: seq, progress: progress}) {
			return
		}
		if progress == domain.MaxProgress {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *VoiceConversationController) handleRampTick(ev rampTick) {
	if c.rampCancel == nil || ev.seq != c.rampSeq {
		return
	}
	if c.state.Kind != domain.StateSpeaking {
		c.cancelRamp()
		return
	}

	c.setState(domain.Speaking(c.state.SpokenText, false, ev.progress))
	if ev.progress >= domain.MaxProgress {
		c.startListening()
	}
}
