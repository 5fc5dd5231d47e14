package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"student_25_dcnet/dcnet"
	test "student_25_dcnet/testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v4/util/encoding"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "node.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func hexKeys(t *testing.T) (string, string) {
	private, public := test.NewKeyPair()
	priv, err := encoding.ScalarToStringHex(test.Suite, private)
	require.NoError(t, err)
	pub, err := encoding.PointToStringHex(test.Suite, public)
	require.NoError(t, err)
	return priv, pub
}

// A complete file is turned into the member configuration with its roster
func TestLoad(t *testing.T) {
	priv, _ := hexKeys(t)
	_, peer2 := hexKeys(t)
	_, peer3 := hexKeys(t)

	path := writeConfig(t, `
node_id = 1
group_size = 3
security = "adaptive"
workers = 2
idle_delay = "250ms"
listen = "127.0.0.1:4001"
metrics = "127.0.0.1:9101"
private_key = "`+priv+`"

[[peers]]
id = 2
address = "127.0.0.1:4002"
public_key = "`+peer2+`"

[[peers]]
id = 3
address = "127.0.0.1:4003"
public_key = "`+peer3+`"
`)

	conf, err := Load(path, test.Suite)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, conf.IdleDelay.Duration)
	require.Equal(t, map[int64]string{
		1: "127.0.0.1:4001",
		2: "127.0.0.1:4002",
		3: "127.0.0.1:4003",
	}, conf.Addresses())

	member, err := conf.Member(test.Suite)
	require.NoError(t, err)
	require.Equal(t, dcnet.SecurityAdaptive, member.Security)
	require.Equal(t, 3, member.GroupSize)
	require.Len(t, member.Roster, 3)
	require.True(t, member.Roster[1].Equal(test.Suite.Point().Mul(member.Private, nil)))
}

// Inconsistent groups are refused
func TestValidate(t *testing.T) {
	priv, pub := hexKeys(t)
	valid := func() *Config {
		return &Config{
			NodeID:     1,
			GroupSize:  2,
			Listen:     "127.0.0.1:4001",
			PrivateKey: priv,
			Peers:      []Peer{{ID: 2, Address: "127.0.0.1:4002", PublicKey: pub}},
		}
	}
	require.NoError(t, valid().Validate(test.Suite))

	conf := valid()
	conf.GroupSize = 3
	require.Error(t, conf.Validate(test.Suite))

	conf = valid()
	conf.Peers[0].ID = 1
	require.Error(t, conf.Validate(test.Suite))

	conf = valid()
	conf.Peers[0].PublicKey = "zz"
	require.Error(t, conf.Validate(test.Suite))

	conf = valid()
	conf.Security = "paranoid"
	require.Error(t, conf.Validate(test.Suite))

	conf = valid()
	conf.PrivateKey = ""
	require.Error(t, conf.Validate(test.Suite))
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.toml"), test.Suite)
	require.Error(t, err)
}
