// Package dispatch performs the platform sends for one rendered announcement.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"herald/internal/platform"
	"herald/internal/render"
	"herald/pkg/apperr"
	logx "herald/pkg/logx"
)

const DefaultSendTimeout = 30 * time.Second

// Result describes the outcome of one delivery.
//
// Partial is set when the primary message went out but the attachment
// follow-up did not. The primary send is not rolled back.
type Result struct {
	Delivered bool
	MessageID string
	Partial   bool
	Code      string
	Reason    string
}

// Err converts a failed result into a typed error. It returns nil on delivery.
func (r Result) Err() *apperr.Error {
	if r.Delivered {
		return nil
	}
	return apperr.Clone(apperr.ByCode(r.Code), r.Reason)
}

type Dispatcher struct {
	client      platform.Client
	sendTimeout time.Duration
	log         logx.Logger
}

func New(client platform.Client, sendTimeout time.Duration, log logx.Logger) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{client: client, sendTimeout: sendTimeout, log: log}
}

// Deliver sends p to channelID. Client errors and panics are reported in the
// Result and never escape.
func (d *Dispatcher) Deliver(ctx context.Context, p render.Payload, channelID string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch panic",
				logx.String("channel", channelID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			res = failure(apperr.ErrDelivery.Code, fmt.Sprintf("platform client panic: %v", r))
		}
	}()

	ch, err := d.channel(ctx, channelID)
	if err != nil {
		if errors.Is(err, platform.ErrChannelNotFound) {
			return failure(apperr.ErrChannelNotFound.Code, "channel "+channelID+" not found")
		}
		return failure(apperr.ErrDelivery.Code, "resolve channel: "+err.Error())
	}
	if !ch.Text {
		return failure(apperr.ErrChannelNotText.Code, "channel "+channelID+" cannot carry messages")
	}

	primary := p.Primary
	if !primary.Empty() {
		sent, err := d.send(ctx, channelID, &primary)
		if err != nil {
			return failure(apperr.ErrDelivery.Code, err.Error())
		}
		res = Result{Delivered: true, MessageID: sent.ID}
	}

	if p.FollowUp != nil {
		sent, err := d.send(ctx, channelID, p.FollowUp)
		if err != nil {
			if !res.Delivered {
				return failure(apperr.ErrDelivery.Code, err.Error())
			}
			d.log.Warn("attachment follow-up failed after primary send",
				logx.String("channel", channelID),
				logx.String("message_id", res.MessageID),
				logx.Err(err),
			)
			res.Partial = true
			res.Reason = "attachments not sent: " + err.Error()
			return res
		}
		if !res.Delivered {
			res = Result{Delivered: true, MessageID: sent.ID}
		}
	}

	if !res.Delivered {
		return failure(apperr.ErrValidation.Code, "nothing to send")
	}
	return res
}

func (d *Dispatcher) channel(ctx context.Context, id string) (platform.Channel, error) {
	cctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.client.Channel(cctx, id)
}

func (d *Dispatcher) send(ctx context.Context, channelID string, msg *platform.Message) (platform.SentMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return d.client.Send(cctx, channelID, msg)
}

func failure(code, reason string) Result {
	return Result{Code: code, Reason: reason}
}
