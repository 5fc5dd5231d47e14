package dcnet

import (
	"context"
	"errors"

	"student_25_dcnet/messaging"
	"student_25_dcnet/metrics"
	"student_25_dcnet/pedersencommitment"
	"student_25_dcnet/sharing"
	"student_25_dcnet/slots"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/util/random"
	"golang.org/x/xerrors"
)

// ownReservation is what a sender remembers about the slot it reserved
type ownReservation struct {
	slot    int
	nonce   uint16
	message []byte
	// ephemeral[i] is the secret behind the key published for member i
	ephemeral []kyber.Scalar
}

// transmissionPlan is the outcome of a reservation round: one logical slot
// per valid reservation, in reservation slot order
type transmissionPlan struct {
	secured      bool
	origins      []int
	reservations []*slots.Reservation
	// own is the logical slot of this member, -1 if it does not send
	own       int
	message   []byte
	ephemeral []kyber.Scalar
}

func (p *transmissionPlan) layout() slots.Layout {
	lengths := make([]int, len(p.reservations))
	for i, r := range p.reservations {
		lengths[i] = slots.TransmissionSize(int(r.Length))
	}
	return slots.NewLayout(lengths...)
}

// planTransmission decodes the reconstructed reservation slots. It returns
// the number of occupied slots that do not hold a valid reservation.
func planTransmission(params *pedersencommitment.Params, content [][]byte, k int, secured bool,
	own *ownReservation) (*transmissionPlan, int) {

	plan := &transmissionPlan{
		secured: secured,
		own:     -1,
	}
	invalid := 0
	for slot, bs := range content {
		if bs == nil {
			invalid++
			continue
		}
		if slots.IsEmpty(bs) {
			continue
		}
		r, err := slots.DecodeReservation(params, bs, k, secured)
		if err != nil {
			invalid++
			continue
		}
		if own != nil && own.slot == slot && own.nonce == r.Nonce && int(r.Length) == len(own.message) {
			plan.own = len(plan.origins)
			plan.message = own.message
			plan.ephemeral = own.ephemeral
		}
		plan.origins = append(plan.origins, slot)
		plan.reservations = append(plan.reservations, r)
	}
	return plan, invalid
}

// reservationState lets senders claim one of 2k slots
type reservationState struct{}

func (reservationState) String() string { return "reservation" }

func (reservationState) run(ctx context.Context, dc *DCNetwork) (state, error) {
	round := dc.nextRound()
	k := dc.group.Size()
	secured := dc.secured
	layout := slots.UniformLayout(2*k, slots.ReservationSize(k, dc.params.PointSize(), secured))
	values := emptyValues(layout)

	own, err := dc.reserve(layout.Slots(), k, secured)
	if err != nil {
		return nil, err
	}
	if own != nil {
		bs, err := dc.reservationSlot(own, secured)
		if err != nil {
			return nil, err
		}
		values[own.slot] = bs
	}

	result, err := dc.engine.Run(ctx, sharing.Instance{
		Name:   "reservation",
		Round:  round,
		Mode:   dc.mode(),
		Phases: messaging.ReservationPhases,
		Layout: layout,
		Values: values,
	})
	if err != nil {
		mismatch := &sharing.MismatchError{}
		if errors.As(err, &mismatch) {
			metrics.RoundsTotal.WithLabelValues("reservation", "aborted").Inc()
			return &blameState{cause: mismatch, aborted: result, abortedRound: round}, nil
		}
		metrics.RoundsTotal.WithLabelValues("reservation", "error").Inc()
		return nil, err
	}
	metrics.RoundsTotal.WithLabelValues("reservation", "ok").Inc()

	plan, invalid := planTransmission(dc.params, result.Slots, k, secured, own)
	if invalid > 0 {
		dc.counters.collisions.Add(uint64(invalid))
		metrics.CollisionsTotal.Add(float64(invalid))
	}

	if 2*invalid > k {
		dc.logger.Warn().Msgf("%d invalid reservations, jamming suspected", invalid)
		return dc.jamming(result, own), nil
	}
	if invalid > 0 {
		dc.logger.Warn().Msgf("collision in %d reservation slots, restarting", invalid)
		return readyState{}, nil
	}
	if len(plan.reservations) == 0 {
		err = wait(ctx, dc.conf.IdleDelay)
		if err != nil {
			return nil, err
		}
		return readyState{}, nil
	}

	dc.logger.Debug().Msgf("%d slots reserved, own logical slot %d", len(plan.reservations), plan.own)
	return &transmissionState{plan: plan}, nil
}

// jamming returns the state following a reservation round with too many
// invalid slots: the fairness protocol when secured, otherwise a new round,
// in secured mode for adaptive members
func (dc *DCNetwork) jamming(result *sharing.Result, own *ownReservation) state {
	switch {
	case dc.secured:
		ownSlot := -1
		if own != nil {
			ownSlot = own.slot
		}
		return &fairnessState{instance: result, ownSlot: ownSlot}
	case dc.conf.Security == SecurityAdaptive:
		dc.logger.Info().Msg("switching to secured mode")
		dc.secured = true
		return readyState{}
	default:
		return readyState{}
	}
}

// reserve picks a slot for the message at the head of the queue, if any
func (dc *DCNetwork) reserve(n, k int, secured bool) (*ownReservation, error) {
	msg, ok := dc.pending.Peek()
	if !ok {
		return nil, nil
	}
	rand := random.New()
	slot, nonce := slots.ReserveSlot(n, rand)
	if dc.conf.SlotPicker != nil {
		slot = dc.conf.SlotPicker(n)
		if slot < 0 || slot >= n {
			return nil, xerrors.Errorf("slot picker chose %d out of %d", slot, n)
		}
	}

	own := &ownReservation{
		slot:    slot,
		nonce:   nonce,
		message: msg,
	}
	if secured {
		own.ephemeral = make([]kyber.Scalar, k)
		for i := range own.ephemeral {
			own.ephemeral[i] = dc.params.Suite.Scalar().Pick(rand)
		}
	}
	return own, nil
}

func (dc *DCNetwork) reservationSlot(own *ownReservation, secured bool) ([]byte, error) {
	r := slots.Reservation{
		Nonce:  own.nonce,
		Length: uint16(len(own.message)),
	}
	if secured {
		r.Keys = make([]kyber.Point, len(own.ephemeral))
		for i, e := range own.ephemeral {
			r.Keys[i] = dc.params.CommitBlinding(e)
		}
	}
	return slots.EncodeReservation(r)
}
