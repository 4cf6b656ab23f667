package client

import (
	"context"

	"github.com/p4lang/p4runtime/go/p4/v1"

	"p4ctl/entity"
)

// MessageChannels 其中包含两个通道：
//   - IncomingMessageChannel 接收来自 P4 交换机的消息，会话结束时关闭。
//   - OutgoingMessageChannel 发送消息到 P4 交换机。
type MessageChannels struct {
	IncomingMessageChannel chan *v1.StreamMessageResponse
	OutgoingMessageChannel chan *v1.StreamMessageRequest
}

// ArbitrationData 结构体，包含两个字段：
//   - DeviceID 用于标识客户端所连接的特定 P4 设备。
//   - ElectionID 标识客户端在流控制中的主控权，低 64 位即客户端 ID。
type ArbitrationData struct {
	DeviceID   uint64
	ElectionID v1.Uint128
}

// EntityClient defines any client that can interact with P4 switch entities such
// as tables, actions, counters, etc. The managers in package control only depend
// on this interface.
type EntityClient interface {
	// Catalog returns the schema of the bound program.
	Catalog() (*entity.Catalog, error)

	// WriteUpdate is used to update an entity on the switch. Refer to the P4Runtime spec to know more.
	WriteUpdate(ctx context.Context, update *v1.Update) error

	// WriteUpdates sends several updates in one WriteRequest.
	WriteUpdates(ctx context.Context, updates ...*v1.Update) error

	ReadEntities(ctx context.Context, entities []*v1.Entity) (chan *v1.Entity, error)

	ReadEntitiesSync(ctx context.Context, entities []*v1.Entity) ([]*v1.Entity, error)
}

// P4RClient represents a P4Runtime session. Most methods are just getters since Go's
// interface implementation does not allow non-function members
type P4RClient interface {
	EntityClient

	// Subscribe opens the stream channel and performs arbitration.
	Subscribe(ctx context.Context, preferredClientID uint32) (uint32, error)

	// BindProgram loads the schema of the program running on the device.
	BindProgram(ctx context.Context, program string) error

	// InstallProgram pushes a compiled program to the device, then binds it.
	InstallProgram(ctx context.Context, program, binPath, p4InfoPath string) error

	// Teardown releases everything the session holds. It is safe to call more than once.
	Teardown()

	// Send queues a message on the stream channel.
	Send(ctx context.Context, msg *v1.StreamMessageRequest) error

	// GetMessageChannels will return the message channels used by the client
	GetMessageChannels() MessageChannels

	// GetArbitrationData will return the data required to perform arbitration
	// for the client
	GetArbitrationData() ArbitrationData

	State() State

	ClientID() uint32

	// IsMaster returns true if the client is master
	IsMaster() bool

	// SetMastershipStatus sets the mastership status of the client
	SetMastershipStatus(bool)
}
