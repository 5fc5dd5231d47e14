package dcnet

import (
	"bytes"
	"context"
	"crypto/cipher"
	"errors"

	"student_25_dcnet/marshalling"
	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"
)

// transmissionState publishes the messages of the senders that reserved a
// slot
type transmissionState struct {
	plan *transmissionPlan
}

func (*transmissionState) String() string { return "transmission" }

func (s *transmissionState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	round := dc.nextRound()
	plan := s.plan
	layout := plan.layout()
	values := emptyValues(layout)
	if plan.own >= 0 {
		copy(values[plan.own], slots.EncodeTransmission(plan.message))
	}

	inst := sharing.Instance{
		Name:   "transmission",
		Round:  round,
		Mode:   sharing.Unsecured,
		Phases: messaging.TransmissionPhases,
		Layout: layout,
		Values: values,
	}
	if plan.secured {
		seeds, err := dc.ownSeeds(plan)
		if err != nil {
			return nil, err
		}
		inst.Mode = sharing.Secured
		inst.Blinding = func(slot int) cipher.Stream {
			return dc.params.Suite.XOF(seeds[slot])
		}
	}

	result, err := dc.engine.Run(ctx, inst)
	if err != nil {
		mismatch := &sharing.MismatchError{}
		if errors.As(err, &mismatch) {
			metrics.RoundsTotal.WithLabelValues("transmission", "aborted").Inc()
			return &blameState{cause: mismatch, aborted: result, abortedRound: round, plan: plan}, nil
		}
		metrics.RoundsTotal.WithLabelValues("transmission", "error").Inc()
		return nil, err
	}

	corrupt := make([]int, 0)
	for slot, bs := range result.Slots {
		if bs == nil {
			corrupt = append(corrupt, slot)
			continue
		}
		payload, err := slots.DecodeTransmission(bs)
		if err != nil {
			corrupt = append(corrupt, slot)
			continue
		}
		err = dc.deliver(ctx, Delivery{Round: round, Slot: slot, Payload: payload})
		if err != nil {
			return nil, err
		}
		if slot == plan.own && bytes.Equal(payload, plan.message) {
			_, err = dc.pending.Pop()
			if err != nil {
				dc.logger.Warn().Err(err).Msg("own message already gone")
			}
			metrics.PendingMessages.Set(float64(dc.pending.Len()))
		}
	}

	if len(corrupt) == 0 {
		metrics.RoundsTotal.WithLabelValues("transmission", "ok").Inc()
		return readyState{}, nil
	}
	metrics.RoundsTotal.WithLabelValues("transmission", "corrupt").Inc()
	dc.logger.Warn().Msgf("corrupt slots %v in round %d", corrupt, round)

	if !plan.secured {
		return readyState{}, nil
	}

	var jam *marshalling.Accusation
	for _, slot := range corrupt {
		if slot != plan.own {
			continue
		}
		jam, err = dc.jamEvidence(plan, result.Commitments)
		if err != nil {
			return nil, err
		}
		if jam == nil {
			dc.logger.Warn().Msg("own slot corrupt but every contribution sums to zero")
		}
	}
	return &blameState{aborted: result, abortedRound: round, plan: plan, jam: jam}, nil
}
