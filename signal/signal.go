package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"p4ctl/util"
)

var capturedSignals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}

// exit 可在测试中替换
var exit = os.Exit

// WithSignals 返回一个在收到第一个 SIGINT/SIGTERM 时取消的 context，
// 调用方借此完成会话的 Teardown。收到第二个信号时进程直接退出。
// 返回的 stop 用于注销信号处理。
func WithSignals(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	notifyCh := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(notifyCh, capturedSignals...)

	go func() {
		select {
		case sig := <-notifyCh:
			util.WithField("signal", sig.String()).Warn("Interrupted, tearing down")
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-notifyCh:
			util.WithField("signal", sig.String()).Error("Second signal, exiting now")
			exit(1)
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(notifyCh)
			close(done)
			cancel()
		})
	}
}
