package networking

import (
	"context"
	"testing"
	"time"

	"student_25_dcnet/messaging"

	"github.com/stretchr/testify/require"
)

// Simple test to ensure a node joining works correctly
func Test_fake_network_join(t *testing.T) {
	network := NewFakeNetwork()

	nbNodes := 10
	expSize := 0
	// Test adding new nodes and check that they are being added
	for i := 0; i < nbNodes; i++ {
		node := network.JoinNetwork()
		expSize++
		// Check the list of nodes is updated
		require.Equal(t, len(network.nodes), expSize)
		// Check that the given queue is updated
		require.Equal(t, network.nodes[node.id], node.rcvQueue)
	}
}

// Test that sending and receiving a message between two nodes works
func Test_fake_network_Send_Receive(t *testing.T) {
	network := NewFakeNetwork()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n1 := network.JoinNetwork()
	n2 := network.JoinNetwork()

	msg := []byte("hello world")

	err := n1.Send(msg, n2.id)
	require.NoError(t, err)

	received, err := n2.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, msg, received)
	require.Len(t, n1.GetSent(), 1)
	require.Len(t, n2.GetReceived(), 1)
}

// Test a broadcast works correctly
func Test_fake_network_Send_Broadcast(t *testing.T) {
	network := NewFakeNetwork()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	nbNodes := 10

	nodes := make([]*FakeInterface, nbNodes)
	for i := 0; i < nbNodes; i++ {
		nodes[i] = network.JoinNetwork()
	}

	msg := []byte("hello world")
	err := nodes[0].Broadcast(msg)
	require.NoError(t, err)

	// Check that everyone received the message (incl. n1)
	for _, node := range nodes {
		received, err := node.Receive(ctx)
		require.NoError(t, err, "Node %d didn't receive a message", node.id)
		require.Equal(t, msg, received, "Node %d didn't received the right message", node.id)
	}
}

// An interceptor can rewrite or drop messages on a given link
func Test_fake_network_Interceptor(t *testing.T) {
	network := NewFakeNetwork()
	n1 := network.JoinNetwork()
	n2 := network.JoinNetwork()
	n3 := network.JoinNetwork()

	network.SetInterceptor(func(msg []byte, from, to int64) []byte {
		if from == n1.id && to == n2.id {
			return []byte("tampered")
		}
		if to == n3.id {
			return nil
		}
		return msg
	})

	require.NoError(t, n1.Broadcast([]byte("original")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received, err := n1.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("original"), received)

	received, err = n2.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("tampered"), received)

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err = n3.Receive(short)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// A delayed node still delivers its messages
func Test_fake_network_Delay(t *testing.T) {
	network := NewFakeNetwork()
	n1 := network.JoinNetwork()
	n2 := network.JoinNetwork()
	network.DelayNode(n1.id, 20*time.Millisecond)

	start := time.Now()
	require.NoError(t, n1.Send([]byte("late"), n2.id))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	received, err := n2.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("late"), received)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

// Nodes decode packets and hand them out per type and round
func Test_node_Routing(t *testing.T) {
	network := NewFakeNetwork()
	node1 := NewNode(network.JoinNetwork())
	node2 := NewNode(network.JoinNetwork())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go node1.Start(ctx)
	go node2.Start(ctx)

	err := node1.Send(node2.ID(), &messaging.Packet{
		Type: messaging.Ready, Sender: 1, Round: 3, Payload: []byte{1},
	})
	require.NoError(t, err)
	err = node1.Broadcast(&messaging.Packet{
		Type: messaging.Start, Sender: 1, Round: 4, Payload: []byte{2},
	})
	require.NoError(t, err)

	pkt, err := node2.Receive(ctx, 4, messaging.Start, messaging.Ready)
	require.NoError(t, err)
	require.Equal(t, messaging.Start, pkt.Type)
	require.Equal(t, []byte{2}, pkt.Payload)

	// The sender gets its own broadcast
	pkt, err = node1.Receive(ctx, 4, messaging.Start)
	require.NoError(t, err)
	require.Equal(t, uint32(1), pkt.Sender)
}
