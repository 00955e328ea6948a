package history

import (
	"context"
	"fmt"
	"time"

	"github.com/route-beacon/bgpflow/internal/bgp"
	"github.com/route-beacon/bgpflow/internal/bmp"
	"github.com/route-beacon/bgpflow/internal/config"
	"github.com/route-beacon/bgpflow/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type Pipeline struct {
	writer          *Writer
	batchSize       int
	flushInterval   time.Duration
	maxPayloadBytes int
	logger          *zap.Logger
	asnCache        map[string]uint32
	routerMeta      map[string]config.RouterMeta
}

func NewPipeline(writer *Writer, batchSize, flushIntervalMs, maxPayloadBytes int, logger *zap.Logger, routerMeta map[string]config.RouterMeta) *Pipeline {
	if routerMeta == nil {
		routerMeta = make(map[string]config.RouterMeta)
	}
	return &Pipeline{
		writer:          writer,
		batchSize:       batchSize,
		flushInterval:   time.Duration(flushIntervalMs) * time.Millisecond,
		maxPayloadBytes: maxPayloadBytes,
		logger:          logger,
		asnCache:        make(map[string]uint32),
		routerMeta:      routerMeta,
	}
}

// Run processes records from the channel until context is cancelled.
func (p *Pipeline) Run(ctx context.Context, records <-chan []*kgo.Record, flushed chan<- []*kgo.Record) {
	var batch []*HistoryRow
	var batchRecords []*kgo.Record
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batchRecords) > 0 {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				p.flush(shutdownCtx, batch, batchRecords, flushed)
			}
			return

		case recs, ok := <-records:
			if !ok {
				if len(batchRecords) > 0 {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					p.flush(shutdownCtx, batch, batchRecords, flushed)
				}
				return
			}

			for _, rec := range recs {
				rows := p.processRecord(ctx, rec)
				if len(rows) > 0 {
					batch = append(batch, rows...)
				}
				batchRecords = append(batchRecords, rec)
			}

			if len(batchRecords) >= p.batchSize {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = nil
					batchRecords = nil
				}
			}

			// Cap memory: if repeated flush failures cause the batch to
			// grow beyond 10x the configured size, drop the in-memory
			// batch to prevent unbounded memory growth. Offsets are NOT
			// committed so records will be re-consumed on restart.
			if len(batchRecords) >= p.batchSize*10 {
				p.logger.Error("dropping oversized batch after repeated flush failures",
					zap.Int("dropped_records", len(batchRecords)),
					zap.Int("dropped_rows", len(batch)),
				)
				metrics.BatchDroppedTotal.WithLabelValues("history").Inc()
				batch = nil
				batchRecords = nil
			}

		case <-ticker.C:
			if len(batchRecords) > 0 {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = nil
					batchRecords = nil
				}
			}
		}
	}
}

func (p *Pipeline) processRecord(ctx context.Context, rec *kgo.Record) []*HistoryRow {
	bmpBytes, err := bmp.DecodeOpenBMPFrame(rec.Value, p.maxPayloadBytes)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("openbmp", "decode").Inc()
		p.logger.Warn("failed to decode OpenBMP frame",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return nil
	}

	sess := bmp.NewBmpSession()
	msgs, err := sess.DecodeAll(bmpBytes)
	if err != nil && len(msgs) == 0 {
		metrics.ParseErrorsTotal.WithLabelValues("bmp", "parse").Inc()
		p.logger.Warn("failed to parse BMP messages",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return nil
	}

	var rows []*HistoryRow
	for _, msg := range msgs {
		switch msg.Type {
		case bmp.MsgTypePeerUp:
			pu := msg.PeerUp
			if pu.Peer.IsLocRIB() {
				p.processLocRIBPeerUp(ctx, rec, pu.Peer.RouterID.String())
			} else {
				localASN := uint32(pu.SentOpen.MyAS)
				if pu.SentOpen.Caps.AS4 {
					localASN = pu.SentOpen.Caps.AS4Number
				}
				p.processPeerUpASN(ctx, rec, pu.SentOpen.RouterID.String(), localASN)
			}

		case bmp.MsgTypeRouteMonitoring:
			rm := msg.RouteMonitoring
			nativeAFI := 4
			if rm.Peer.IsIPv6() {
				nativeAFI = 6
			}
			if _, isEOR := bgp.DetectEOR(rm.Update, nativeAFI); isEOR {
				continue
			}

			events := bgp.ProjectUpdate(rm.Update)
			if len(events) == 0 {
				continue
			}

			isLocRIB := rm.Peer.IsLocRIB()
			tableName := rm.Peer.RD.String()
			var routerID string
			if isLocRIB {
				routerID = rm.Peer.RouterID.String()
			}
			peerAddr := rm.Peer.String()

			for i, ev := range events {
				var suffix []byte
				if isLocRIB {
					suffix = []byte(ev.Prefix + "/" + ev.Action)
				} else {
					suffix = []byte(peerAddr + "/" + ev.Prefix + "/" + ev.Action)
				}
				perPrefixData := make([]byte, len(rm.Raw)+len(suffix))
				copy(perPrefixData, rm.Raw)
				copy(perPrefixData[len(rm.Raw):], suffix)
				rowEventID := ComputeEventID(perPrefixData)

				afiStr := fmt.Sprintf("%d", ev.AFI)
				metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, afiStr, ev.Action).Inc()

				row := &HistoryRow{
					EventID:   rowEventID,
					RouterID:  routerID,
					TableName: tableName,
					Event:     &events[i],
					BMPRaw:    rm.Raw,
					Topic:     rec.Topic,
					IsLocRIB:  isLocRIB,
				}
				if !isLocRIB {
					row.PeerAddress = peerAddr
					row.PeerAS = rm.Peer.ASN
					row.PeerBGPID = rm.Peer.RouterID.String()
					row.IsPostPolicy = rm.Peer.IsPostPolicy()
				}
				rows = append(rows, row)
			}
		}
	}

	return rows
}

func (p *Pipeline) processLocRIBPeerUp(ctx context.Context, rec *kgo.Record, routerID string) {
	metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, "", "peer_up_locrib").Inc()

	if routerID == "" {
		return
	}

	if p.writer == nil || p.writer.pool == nil {
		p.logger.Info("router registered from Loc-RIB Peer Up (no db)",
			zap.String("router_id", routerID),
		)
		return
	}

	meta := p.routerMeta[routerID]
	if err := UpsertRouter(ctx, p.writer.pool, routerID, routerID, "", "", nil, meta.Name, meta.Location); err != nil {
		p.logger.Warn("failed to upsert router from Loc-RIB Peer Up",
			zap.String("router_id", routerID),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("router registered from Loc-RIB Peer Up",
		zap.String("router_id", routerID),
	)
}

func (p *Pipeline) processPeerUpASN(ctx context.Context, rec *kgo.Record, routerID string, localASN uint32) {
	if routerID == "" || localASN == 0 {
		return
	}

	if p.asnCache[routerID] == localASN {
		return
	}

	asn := int64(localASN)
	if p.writer == nil || p.writer.pool == nil {
		p.asnCache[routerID] = localASN
		metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, "", "peer_up_asn").Inc()
		p.logger.Info("router ASN extracted from BMP Peer Up (no db)",
			zap.String("router_id", routerID),
			zap.Uint32("as_number", localASN),
		)
		return
	}
	meta := p.routerMeta[routerID]
	if err := UpsertRouter(ctx, p.writer.pool, routerID, routerID, "", "", &asn, meta.Name, meta.Location); err != nil {
		p.logger.Warn("failed to upsert router ASN from peer up",
			zap.String("router_id", routerID),
			zap.Uint32("as_number", localASN),
			zap.Error(err),
		)
		return
	}

	p.asnCache[routerID] = localASN
	metrics.KafkaMessagesTotal.WithLabelValues("history", rec.Topic, "", "peer_up_asn").Inc()
	p.logger.Info("router ASN extracted from BMP Peer Up",
		zap.String("router_id", routerID),
		zap.Uint32("as_number", localASN),
	)
}

func (p *Pipeline) flush(ctx context.Context, batch []*HistoryRow, records []*kgo.Record, flushed chan<- []*kgo.Record) bool {
	inserted, err := p.writer.FlushBatch(ctx, batch)
	if err != nil {
		p.logger.Error("history batch flush failed", zap.Error(err))
		return false
	}

	p.logger.Debug("history batch flushed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", inserted),
		zap.Int64("deduped", int64(len(batch))-inserted),
	)

	// Update rib_sync_status.last_raw_msg_time for each router/table/afi seen.
	p.updateSyncStatus(ctx, batch)

	// Signal successful flush for offset commit.
	select {
	case flushed <- records:
	case <-ctx.Done():
	}

	return true
}

// updateSyncStatus updates last_raw_msg_time for each unique router/table/afi in the batch.
func (p *Pipeline) updateSyncStatus(ctx context.Context, batch []*HistoryRow) {
	type key struct{ r, t string; a int }
	seen := make(map[key]bool)

	for _, row := range batch {
		if !row.IsLocRIB {
			continue
		}
		k := key{row.RouterID, row.TableName, row.Event.AFI}
		if seen[k] {
			continue
		}
		seen[k] = true

		if err := p.writer.UpdateSyncStatus(ctx, row.RouterID, row.TableName, row.Event.AFI); err != nil {
			p.logger.Warn("failed to update sync status for raw msg",
				zap.String("router_id", row.RouterID),
				zap.Error(err),
			)
		}

		afiStr := fmt.Sprintf("%d", row.Event.AFI)
		metrics.LastMsgTimestamp.WithLabelValues("history", row.RouterID, row.TableName, afiStr).SetToCurrentTime()
	}
}
