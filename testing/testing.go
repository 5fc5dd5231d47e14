package testing

import (
	"context"

	"student_25_dcnet/marshalling"
	"student_25_dcnet/membership"
	"student_25_dcnet/messaging"
	"student_25_dcnet/networking"
	"student_25_dcnet/pedersencommitment"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/group/edwards25519"
	"go.dedis.ch/kyber/v4/sign/schnorr"
)

// Suite is the group every test member uses
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// Params are the commitment parameters matching Suite
var Params = pedersencommitment.NewParams(Suite)

func SetupNetwork(network *networking.FakeNetwork, nbNodes int) []*networking.FakeInterface {
	nodes := make([]*networking.FakeInterface, nbNodes)
	for i := 0; i < nbNodes; i++ {
		nodes[i] = network.JoinNetwork()
	}
	return nodes
}

// NewKeyPair returns a fresh long-term key pair
func NewKeyPair() (kyber.Scalar, kyber.Point) {
	private := Suite.Scalar().Pick(Suite.RandomStream())
	return private, Suite.Point().Mul(private, nil)
}

// Member bundles what a test needs to drive one participant
type Member struct {
	Iface   *networking.FakeInterface
	Node    *networking.Node
	Private kyber.Scalar
	Public  kyber.Point
	Info    membership.Member
}

// SetupMembers joins k members to the network. Node ids are the network
// ids, from 1 to k.
func SetupMembers(network *networking.FakeNetwork, k int) []*Member {
	ifaces := SetupNetwork(network, k)
	members := make([]*Member, k)
	for i, iface := range ifaces {
		private, public := NewKeyPair()
		members[i] = &Member{
			Iface:   iface,
			Node:    networking.NewNode(iface),
			Private: private,
			Public:  public,
			Info: membership.Member{
				NodeID:    uint32(iface.GetID()),
				Conn:      iface.GetID(),
				PublicKey: public,
			},
		}
	}
	return members
}

// CompleteGroup returns the full group as seen by members[self]
func CompleteGroup(members []*Member, self int) *membership.Group {
	g := membership.NewGroup(len(members), members[self].Info, members[self].Private)
	for i, m := range members {
		if i == self {
			continue
		}
		err := g.Insert(m.Info)
		if err != nil {
			panic(err)
		}
	}
	return g
}

// StartNodes runs the receive loop of every member until ctx is done
func StartNodes(ctx context.Context, members []*Member) {
	for _, m := range members {
		go m.Node.Start(ctx)
	}
}

// Tamper adds one to the first s scalar of the pair payloads of type t sent
// from one node to another. When private is set the pair is signed again
// with it, as a dishonest sender would do; otherwise the signature no longer
// matches.
func Tamper(t messaging.Type, kind marshalling.AccusationKind, from, to int64,
	private kyber.Scalar) networking.Interceptor {

	return func(msg []byte, src, dst int64) []byte {
		if src != from || dst != to {
			return msg
		}
		pkt, err := messaging.Decode(msg)
		if err != nil || pkt.Type != t {
			return msg
		}
		size := Params.ScalarSize()
		slot, err := marshalling.PeekSlot(pkt.Payload)
		if err != nil {
			return msg
		}
		off := marshalling.SlotIndexSize
		r, err := Params.DecodeScalar(pkt.Payload[off : off+size])
		if err != nil {
			return msg
		}
		s, err := Params.DecodeScalar(pkt.Payload[off+size : off+2*size])
		if err != nil {
			return msg
		}
		s.Add(s, Suite.Scalar().One())
		bs, err := pedersencommitment.EncodeScalar(s)
		if err != nil {
			return msg
		}
		payload := append([]byte(nil), pkt.Payload...)
		copy(payload[off+size:], bs)

		if private != nil {
			recipient := uint32(dst)
			if kind == marshalling.KindSum {
				recipient = 0
			}
			m, err := marshalling.PairMessage(kind, pkt.Round, pkt.Sender, recipient, uint32(slot), 0, r, s)
			if err != nil {
				return msg
			}
			sig, err := schnorr.Sign(Suite, private, m)
			if err != nil {
				return msg
			}
			copy(payload[off+2*size:], sig)
		}

		pkt.Payload = payload
		out, err := pkt.Encode()
		if err != nil {
			return msg
		}
		return out
	}
}
