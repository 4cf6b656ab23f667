package control

import (
	"google.golang.org/genproto/googleapis/rpc/code"
)

// StartArbitrationUpdateListener 启动了一个 监听仲裁更新 的 goroutine。
// 握手之后设备仍可能发送仲裁更新（例如有更高 election id 的客户端加入），
// 每次更新都会重新决定控制器是否拥有主控权。通道关闭时 goroutine 退出。
func (sc *Controller) StartArbitrationUpdateListener() {
	go func() {
		for update := range sc.ArbitrationChannel {
			status := update.Arbitration.GetStatus()
			if status != nil && status.Code != int32(code.Code_OK) {
				sc.SetMastershipStatus(false)
				sc.log.WithField("status", status.Message).Warn("Arbitration update: control lost mastership")
			} else {
				sc.SetMastershipStatus(true)
				sc.log.Info("Arbitration update: control holds mastership")
			}
		}
	}()
}
