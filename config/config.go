package config

import (
	"time"

	"student_25_dcnet/dcnet"
	"student_25_dcnet/pedersencommitment"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/util/encoding"
	"golang.org/x/xerrors"
)

// Duration is a time.Duration written as "1s", "250ms" in TOML files
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Peer is another member of the group
type Peer struct {
	ID        uint32 `toml:"id"`
	Address   string `toml:"address"`
	PublicKey string `toml:"public_key"`
}

// Config is the content of a node configuration file
type Config struct {
	NodeID     uint32   `toml:"node_id"`
	GroupSize  int      `toml:"group_size"`
	Security   string   `toml:"security"`
	Workers    int      `toml:"workers"`
	IdleDelay  Duration `toml:"idle_delay"`
	Listen     string   `toml:"listen"`
	Metrics    string   `toml:"metrics"`
	PrivateKey string   `toml:"private_key"`
	Peers      []Peer   `toml:"peers"`
}

// Load reads and validates a configuration file
func Load(path string, suite pedersencommitment.Suite) (*Config, error) {
	conf := &Config{}
	_, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", path, err)
	}
	err = conf.Validate(suite)
	if err != nil {
		return nil, xerrors.Errorf("invalid configuration %s: %w", path, err)
	}
	return conf, nil
}

// Validate checks that the configuration describes a complete group
func (c *Config) Validate(suite pedersencommitment.Suite) error {
	if c.GroupSize < 2 {
		return xerrors.Errorf("group_size is %d, at least 2 members are needed", c.GroupSize)
	}
	if len(c.Peers)+1 != c.GroupSize {
		return xerrors.Errorf("%d peers for a group of %d", len(c.Peers), c.GroupSize)
	}
	if c.Listen == "" {
		return xerrors.New("listen address missing")
	}
	_, err := dcnet.ParseSecurity(c.Security)
	if err != nil {
		return err
	}
	_, err = encoding.StringHexToScalar(suite, c.PrivateKey)
	if err != nil {
		return xerrors.Errorf("private_key: %w", err)
	}

	seen := map[uint32]struct{}{c.NodeID: {}}
	for _, p := range c.Peers {
		if _, ok := seen[p.ID]; ok {
			return xerrors.Errorf("node id %d appears twice", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Address == "" {
			return xerrors.Errorf("peer %d has no address", p.ID)
		}
		_, err = encoding.StringHexToPoint(suite, p.PublicKey)
		if err != nil {
			return xerrors.Errorf("public_key of peer %d: %w", p.ID, err)
		}
	}
	return nil
}

// Addresses maps every node id, self included, to its address
func (c *Config) Addresses() map[int64]string {
	addresses := map[int64]string{int64(c.NodeID): c.Listen}
	for _, p := range c.Peers {
		addresses[int64(p.ID)] = p.Address
	}
	return addresses
}

// Member returns the configuration of the DC-net member. The peers form its
// roster.
func (c *Config) Member(suite pedersencommitment.Suite) (dcnet.Config, error) {
	security, err := dcnet.ParseSecurity(c.Security)
	if err != nil {
		return dcnet.Config{}, err
	}
	private, err := encoding.StringHexToScalar(suite, c.PrivateKey)
	if err != nil {
		return dcnet.Config{}, err
	}
	roster := map[uint32]kyber.Point{
		c.NodeID: suite.Point().Mul(private, nil),
	}
	for _, p := range c.Peers {
		key, err := encoding.StringHexToPoint(suite, p.PublicKey)
		if err != nil {
			return dcnet.Config{}, err
		}
		roster[p.ID] = key
	}
	return dcnet.Config{
		Suite:     suite,
		NodeID:    c.NodeID,
		Private:   private,
		GroupSize: c.GroupSize,
		Security:  security,
		Workers:   c.Workers,
		IdleDelay: c.IdleDelay.Duration,
		Roster:    roster,
	}, nil
}
