package sharing

import (
	"student_25_dcnet/marshalling"
	"student_25_dcnet/membership"
	"student_25_dcnet/pedersencommitment"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/sign/schnorr"
	"golang.org/x/xerrors"
)

// SignPair signs one disclosed (r, s) pair with the long-term key of its
// sender
func SignPair(suite pedersencommitment.Suite, private kyber.Scalar, kind marshalling.AccusationKind,
	round uint64, sender, recipient, slot, slice uint32, r, s kyber.Scalar) ([]byte, error) {

	msg, err := marshalling.PairMessage(kind, round, sender, recipient, slot, slice, r, s)
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(suite, private, msg)
}

// VerifyPair checks that the suspect of the record signed the disclosed pair
// for the recipient
func VerifyPair(suite pedersencommitment.Suite, public kyber.Point, kind marshalling.AccusationKind,
	round uint64, recipient uint32, rec marshalling.BlameRecord) error {

	msg, err := marshalling.PairMessage(kind, round, rec.Suspect, recipient, rec.Slot, rec.Slice, rec.R, rec.S)
	if err != nil {
		return err
	}
	return schnorr.Verify(suite, public, msg, rec.Signature)
}

// SignAccusation returns the accusation followed by the signature of the
// accuser bound to the round of the disputed instance. Jam accusations are
// anonymous and carry a zero signature.
func SignAccusation(suite pedersencommitment.Suite, private kyber.Scalar, round uint64,
	a marshalling.Accusation) ([]byte, error) {

	bs, err := marshalling.EncodeAccusation(a)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode accusation: %w", err)
	}
	sig := make([]byte, marshalling.SignatureSize)
	if a.Kind != marshalling.KindJam {
		sig, err = schnorr.Sign(suite, private, marshalling.AccusationMessage(round, bs))
		if err != nil {
			return nil, xerrors.Errorf("failed to sign accusation: %w", err)
		}
	}
	return append(bs, sig...), nil
}

// OpenAccusation decodes a signed accusation and checks the signature of its
// accuser
func OpenAccusation(params *pedersencommitment.Params, group *membership.Group, round uint64,
	bs []byte) (*marshalling.Accusation, error) {

	if len(bs) != marshalling.SignedAccusationSize {
		return nil, xerrors.Errorf("signed accusation of %d bytes: %w", len(bs), marshalling.ErrMalformedPayload)
	}
	body, sig := bs[:marshalling.AccusationSize], bs[marshalling.AccusationSize:]
	a, err := marshalling.DecodeAccusation(params, body)
	if err != nil {
		return nil, err
	}
	if a.Kind == marshalling.KindJam {
		if a.Accuser != 0 {
			return nil, xerrors.New("jam accusation names its accuser")
		}
		return a, nil
	}
	accuser, err := group.Get(a.Accuser)
	if err != nil {
		return nil, err
	}
	err = schnorr.Verify(params.Suite, accuser.PublicKey, marshalling.AccusationMessage(round, body), sig)
	if err != nil {
		return nil, xerrors.Errorf("accusation of %d: %w", a.Accuser, err)
	}
	return a, nil
}
