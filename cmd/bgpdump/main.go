package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/route-beacon/bgpflow/internal/bgp"
	"github.com/route-beacon/bgpflow/internal/bmp"
	"github.com/twmb/franz-go/pkg/kgo"
)

func main() {
	broker := "localhost:29092"
	topic := "gobmp.raw"
	if len(os.Args) > 1 {
		broker = os.Args[1]
	}
	if len(os.Args) > 2 {
		topic = os.Args[2]
	}

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.ConsumerGroup(fmt.Sprintf("bgpdump-%d", time.Now().UnixNano())),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kafka client: %v\n", err)
		os.Exit(1)
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess := bmp.NewBmpSession()

	msgNum := 0
	for {
		fetches := cl.PollRecords(ctx, 100)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachRecord(func(rec *kgo.Record) {
			msgNum++
			fmt.Printf("=== Kafka msg %d (partition=%d offset=%d, %d bytes) ===\n",
				msgNum, rec.Partition, rec.Offset, len(rec.Value))

			analyzeMessage(sess, rec.Value)
			fmt.Println()
		})

		if msgNum > 0 && len(fetches.Records()) == 0 {
			break
		}
	}

	fmt.Printf("Total Kafka messages: %d\n", msgNum)
}

func analyzeMessage(sess *bmp.BmpSession, data []byte) {
	bmpBytes, err := bmp.DecodeOpenBMPFrame(data, 16*1024*1024)
	if err != nil {
		fmt.Printf("  DecodeOpenBMPFrame error: %v\n", err)
		return
	}
	fmt.Printf("  BMP payload: %d bytes\n", len(bmpBytes))

	msgs, err := sess.DecodeAll(bmpBytes)
	if err != nil && len(msgs) == 0 {
		fmt.Printf("  DecodeAll error: %v\n", err)
		return
	}
	fmt.Printf("  BMP messages in payload: %d\n", len(msgs))

	for i, m := range msgs {
		fmt.Printf("\n  --- BMP msg %d ---\n", i)
		fmt.Printf("    Type: %d (%s)\n", m.Type, bmpMsgName(m.Type))

		switch m.Type {
		case bmp.MsgTypePeerUp:
			pu := m.PeerUp
			fmt.Printf("    Peer:     RD=%s PeerIP=%s RouterID=%s LocRIB=%v\n",
				pu.Peer.RD, peerIPString(pu.Peer), pu.Peer.RouterID, pu.Peer.IsLocRIB())
			fmt.Printf("    SentAS:   %d  ReceivedAS: %d\n", pu.SentOpen.MyAS, pu.ReceivedOpen.MyAS)

		case bmp.MsgTypePeerDown:
			pd := m.PeerDown
			fmt.Printf("    Peer:     RD=%s PeerIP=%s RouterID=%s\n",
				pd.Peer.RD, peerIPString(pd.Peer), pd.Peer.RouterID)
			fmt.Printf("    Reason:   %d\n", pd.Reason)

		case bmp.MsgTypeRouteMonitoring:
			rm := m.RouteMonitoring
			fmt.Printf("    Peer:        RD=%s PeerIP=%s RouterID=%s LocRIB=%v\n",
				rm.Peer.RD, peerIPString(rm.Peer), rm.Peer.RouterID, rm.Peer.IsLocRIB())
			fmt.Printf("    Synthesized: %v\n", rm.Synthesized)

			nativeAFI := 4
			if rm.Peer.IsIPv6() {
				nativeAFI = 6
			}
			if afi, isEOR := bgp.DetectEOR(rm.Update, nativeAFI); isEOR {
				fmt.Printf("    EOR (AFI=%d)\n", afi)
				continue
			}

			events := bgp.ProjectUpdate(rm.Update)
			fmt.Printf("    Routes: %d\n", len(events))
			for j, ev := range events {
				if j < 5 || j == len(events)-1 {
					fmt.Printf("      [%d] AFI=%d %s %s nexthop=%s as=%s pathID=%d\n",
						j, ev.AFI, ev.Action, ev.Prefix, ev.Nexthop, ev.ASPath, ev.PathID)
				} else if j == 5 {
					fmt.Printf("      ... (%d more) ...\n", len(events)-6)
				}
			}

		case bmp.MsgTypeInitiation:
			fmt.Printf("    SysName:  %q\n", m.Initiation.SysName())
			fmt.Printf("    SysDescr: %q\n", m.Initiation.SysDescr())

		case bmp.MsgTypeTermination:
			if reason, ok := m.Termination.Reason(); ok {
				fmt.Printf("    Reason code: %d\n", reason)
			}
		}
	}
}

func peerIPString(h bmp.PeerHeader) string {
	if v4, ok := h.PeerAddrV4(); ok {
		return v4.String()
	}
	return h.PeerAddrV6().String()
}

func bmpMsgName(t uint8) string {
	switch t {
	case bmp.MsgTypeRouteMonitoring:
		return "RouteMonitoring"
	case bmp.MsgTypeStatisticsReport:
		return "StatisticsReport"
	case bmp.MsgTypePeerDown:
		return "PeerDown"
	case bmp.MsgTypePeerUp:
		return "PeerUp"
	case bmp.MsgTypeInitiation:
		return "Initiation"
	case bmp.MsgTypeTermination:
		return "Termination"
	case bmp.MsgTypeRouteMirroring:
		return "RouteMirroring"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
