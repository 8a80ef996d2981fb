//go:build !darwin

package tinygo

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/groutine"
)

const pumpBuffer = 64

// notifyPump serialises notification callbacks onto one goroutine.
type notifyPump struct {
	key    string
	queue  chan []byte
	quit   chan struct{}
	done   chan struct{}
	logger *logrus.Logger
}

func newNotifyPump(key string, handler func([]byte), logger *logrus.Logger) *notifyPump {
	p := &notifyPump{
		key:    key,
		queue:  make(chan []byte, pumpBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	groutine.Go(context.Background(), "tinygo-notify-"+key, func(ctx context.Context) {
		defer close(p.done)
		for {
			select {
			case data := <-p.queue:
				handler(data)
			case <-p.quit:
				return
			}
		}
	})
	return p
}

func (p *notifyPump) push(buf []byte) {
	data := append([]byte(nil), buf...)
	select {
	case p.queue <- data:
	case <-p.quit:
	default:
		p.logger.WithField("subscription", p.key).Warn("Notification queue full, dropping notification")
	}
}

func (p *notifyPump) stop() {
	close(p.quit)
	<-p.done
}
