package control

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/client"
	"p4ctl/entity"
)

// streamSender 是能够在流通道上发送消息的会话
type streamSender interface {
	Send(ctx context.Context, msg *v1.StreamMessageRequest) error
}

// DigestControl 用于在控制器中处理 P4 中的 DigestEntries。
// 主要功能包括在交换机中插入、修改、删除 DigestEntries 以及向交换机确认接收到的 Digest 消息。
type DigestControl struct {
	client client.EntityClient
	sender streamSender
	digest *entity.Digest
}

func (dc DigestControl) getDigestEntryConfig(maxListSize int32, maxTimeoutNs, ackTimeoutNs int64) *v1.DigestEntry {
	return &v1.DigestEntry{
		DigestId: dc.digest.ID,
		Config: &v1.DigestEntry_Config{
			MaxTimeoutNs: maxTimeoutNs,
			MaxListSize:  maxListSize,
			AckTimeoutNs: ackTimeoutNs,
		},
	}
}

func (dc DigestControl) Name() string {
	return dc.digest.Name
}

// Insert 向交换机插入新的 DigestEntry
func (dc DigestControl) Insert(ctx context.Context, maxListSize int32, maxTimeoutNs, ackTimeoutNs int64) error {
	entry := dc.getDigestEntryConfig(maxListSize, maxTimeoutNs, ackTimeoutNs)
	return dc.client.WriteUpdate(ctx, dc.digest.Insert(entry))
}

// Modify 修改交换机上的现有 DigestEntry
func (dc DigestControl) Modify(ctx context.Context, maxListSize int32, maxTimeoutNs, ackTimeoutNs int64) error {
	entry := dc.getDigestEntryConfig(maxListSize, maxTimeoutNs, ackTimeoutNs)
	return dc.client.WriteUpdate(ctx, dc.digest.Modify(entry))
}

// Delete 删除交换机中的 DigestEntry，表示控制器不再接收对应的 Digest 消息。
func (dc DigestControl) Delete(ctx context.Context) error {
	return dc.client.WriteUpdate(ctx, dc.digest.Delete())
}

// Acknowledge 用于确认控制器已经收到一个 DigestList，确认消息经由流通道发送给交换机。
func (dc DigestControl) Acknowledge(ctx context.Context, digestList *v1.DigestList) error {
	return dc.sender.Send(ctx, dc.digest.Acknowledge(digestList))
}
