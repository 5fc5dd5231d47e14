package messaging

import "fmt"

// Type identifies the protocol phase a payload belongs to
type Type uint8

const (
	Hello Type = iota + 1
	HelloAck
	Ready
	Start

	ReservationCommitments
	ReservationShares
	ReservationSums
	ReservationFinished

	TransmissionCommitments
	TransmissionShares
	TransmissionSums
	TransmissionFinished

	// BlameShare carries a BlameRecord disputing a private share
	BlameShare
	// BlameSum carries a BlameRecord disputing a broadcast sum
	BlameSum

	BlameRoundCommitments
	BlameRoundShares
	BlameRoundSums
	BlameRoundFinished

	CoinCommitments
	CoinShares
	CoinSums
	CoinFinished

	FairnessCommitments
	FairnessOpen
	FairnessProof

	lastType
)

var typeNames = map[Type]string{
	Hello:                   "Hello",
	HelloAck:                "HelloAck",
	Ready:                   "Ready",
	Start:                   "Start",
	ReservationCommitments:  "ReservationCommitments",
	ReservationShares:       "ReservationShares",
	ReservationSums:         "ReservationSums",
	ReservationFinished:     "ReservationFinished",
	TransmissionCommitments: "TransmissionCommitments",
	TransmissionShares:      "TransmissionShares",
	TransmissionSums:        "TransmissionSums",
	TransmissionFinished:    "TransmissionFinished",
	BlameShare:              "BlameShare",
	BlameSum:                "BlameSum",
	BlameRoundCommitments:   "BlameRoundCommitments",
	BlameRoundShares:        "BlameRoundShares",
	BlameRoundSums:          "BlameRoundSums",
	BlameRoundFinished:      "BlameRoundFinished",
	CoinCommitments:         "CoinCommitments",
	CoinShares:              "CoinShares",
	CoinSums:                "CoinSums",
	CoinFinished:            "CoinFinished",
	FairnessCommitments:     "FairnessCommitments",
	FairnessOpen:            "FairnessOpen",
	FairnessProof:           "FairnessProof",
}

func (t Type) String() string {
	name, ok := typeNames[t]
	if !ok {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return name
}

// Valid returns true for known message types
func (t Type) Valid() bool {
	return t >= Hello && t < lastType
}

// Phases groups the message types used by one kind of sharing round
type Phases struct {
	Commitments Type
	Shares      Type
	Sums        Type
	Finished    Type
}

var (
	ReservationPhases = Phases{
		Commitments: ReservationCommitments,
		Shares:      ReservationShares,
		Sums:        ReservationSums,
		Finished:    ReservationFinished,
	}
	TransmissionPhases = Phases{
		Commitments: TransmissionCommitments,
		Shares:      TransmissionShares,
		Sums:        TransmissionSums,
		Finished:    TransmissionFinished,
	}
	BlameRoundPhases = Phases{
		Commitments: BlameRoundCommitments,
		Shares:      BlameRoundShares,
		Sums:        BlameRoundSums,
		Finished:    BlameRoundFinished,
	}
	CoinPhases = Phases{
		Commitments: CoinCommitments,
		Shares:      CoinShares,
		Sums:        CoinSums,
		Finished:    CoinFinished,
	}
)
