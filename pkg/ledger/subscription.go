package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"
)

// SubscribeLogs streams logs matching q to ch in block and log index order.
// A nil q.FromBlock starts at the current head. With a WebSocket connection
// historical logs are backfilled before live delivery; otherwise the node is polled.
func (c *Client) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if q.FromBlock == nil {
		head, err := c.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		q.FromBlock = new(big.Int).SetUint64(head)
	}

	if c.wsClient != nil {
		return c.subscribeWS(ctx, q, ch)
	}
	return c.subscribePolling(q, ch), nil
}

func (c *Client) subscribeWS(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	live := make(chan types.Log, 64)
	liveQuery := q
	liveQuery.FromBlock = nil
	inner, err := c.wsClient.SubscribeFilterLogs(ctx, liveQuery, live)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()

		backfillCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-backfillCtx.Done():
			}
		}()

		head, err := c.BlockNumber(backfillCtx)
		if err != nil {
			return err
		}
		// Live logs at or below last precede FromBlock or were backfilled.
		last := q.FromBlock.Uint64()
		if last > 0 {
			last--
		}
		if q.FromBlock.Uint64() <= head {
			history := q
			history.ToBlock = new(big.Int).SetUint64(head)
			logs, err := c.FilterLogs(backfillCtx, history)
			if err != nil {
				return err
			}
			for _, lg := range logs {
				select {
				case ch <- lg:
				case <-quit:
					return nil
				}
			}
			last = head
		}

		for {
			select {
			case lg := <-live:
				if lg.BlockNumber <= last {
					continue
				}
				select {
				case ch <- lg:
				case <-quit:
					return nil
				}
			case err := <-inner.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// subscribePolling polls eth_getLogs on every tick from the block after the last window.
// Transient node errors are logged and retried on the next tick.
func (c *Client) subscribePolling(q ethereum.FilterQuery, ch chan<- types.Log) ethereum.Subscription {
	interval := c.config.PollingInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		next := q.FromBlock.Uint64()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			latest, err := c.BlockNumber(ctx)
			if err != nil {
				c.logger.Warn("Failed to get latest block", zap.Error(err))
				continue
			}
			if latest < next {
				continue
			}

			window := q
			window.FromBlock = new(big.Int).SetUint64(next)
			window.ToBlock = new(big.Int).SetUint64(latest)
			logs, err := c.FilterLogs(ctx, window)
			if err != nil {
				c.logger.Warn("Failed to poll logs",
					zap.Uint64("from_block", next),
					zap.Uint64("to_block", latest),
					zap.Error(err))
				continue
			}

			for _, lg := range logs {
				select {
				case ch <- lg:
				case <-quit:
					return nil
				}
			}
			next = latest + 1
		}
	})
}
