package control

import (
	"context"
	"strings"
	"sync"

	"github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/sirupsen/logrus"

	"p4ctl/client"
	"p4ctl/util"
)

// Controller 结构体
//   - Client: P4RClient 实例，用于与 P4Runtime 交换机通信。
//   - DigestChannel: 用于处理来自 P4 交换机的 Digest 消息的通道，会话结束时关闭。
//   - ArbitrationChannel: 用于处理仲裁消息的通道，用于管理控制器的主控权。
type Controller struct {
	Client             client.P4RClient
	DigestChannel      chan *v1.StreamMessageResponse_Digest
	ArbitrationChannel chan *v1.StreamMessageResponse_Arbitration

	log        *logrus.Entry
	mcastOnce  sync.Once
	multicast  *MulticastControl
	routerDone chan struct{}
}

func NewController(c client.P4RClient) *Controller {
	return &Controller{
		Client:             c,
		DigestChannel:      make(chan *v1.StreamMessageResponse_Digest, 10),
		ArbitrationChannel: make(chan *v1.StreamMessageResponse_Arbitration, 1),
		log:                util.WithField("component", "controller"),
	}
}

// StartMessageRouter 该方法启动了一个 goroutine，监听 IncomingMessageChannel，
// 并根据消息类型将消息发送到相应的处理通道（例如仲裁消息发送到 ArbitrationChannel，Digest 消息发送到 DigestChannel）。
// IncomingMessageChannel 关闭后，两个处理通道也随之关闭。
func (sc *Controller) StartMessageRouter() {
	incoming := sc.Client.GetMessageChannels().IncomingMessageChannel
	sc.routerDone = make(chan struct{})
	go func() {
		defer close(sc.routerDone)
		defer close(sc.ArbitrationChannel)
		defer close(sc.DigestChannel)
		for in := range incoming {
			switch update := in.GetUpdate().(type) {
			case *v1.StreamMessageResponse_Arbitration:
				sc.ArbitrationChannel <- update
			case *v1.StreamMessageResponse_Digest:
				select {
				case sc.DigestChannel <- update:
				default:
					sc.log.WithField("list_id", update.Digest.GetListId()).Warn("Digest channel full, dropping digest list")
				}
			case *v1.StreamMessageResponse_Error:
				sc.log.WithField("code", update.Error.GetCanonicalCode()).Warn(update.Error.GetMessage())
			case *v1.StreamMessageResponse_IdleTimeoutNotification:
				sc.log.Debugf("Idle timeout for %d entries", len(update.IdleTimeoutNotification.GetTableEntry()))
			default:
				sc.log.Debugf("Message has unhandled type %T", update)
			}
		}
	}()
}

// SetMastershipStatus 该方法设置控制器的主控权状态。
func (sc *Controller) SetMastershipStatus(status bool) {
	sc.Client.SetMastershipStatus(status)
}

func (sc *Controller) IsMaster() bool {
	return sc.Client.IsMaster()
}

// Run 方法是控制器启动的主要入口，负责运行一系列操作：
//  1. 打开流通道并完成仲裁。
//  2. 启动消息路由。
//  3. 启动仲裁更新监听。
//
// 返回会话实际使用的客户端 ID。
func (sc *Controller) Run(ctx context.Context, clientID uint32) (uint32, error) {
	id, err := sc.Client.Subscribe(ctx, clientID)
	if err != nil {
		return 0, err
	}
	sc.StartMessageRouter()
	sc.StartArbitrationUpdateListener()
	return id, nil
}

// Bind 加载设备上正在运行的程序的 schema
func (sc *Controller) Bind(ctx context.Context, program string) error {
	return sc.Client.BindProgram(ctx, program)
}

// InstallProgram 该方法用于安装 P4 编译后的二进制程序到设备上。
//   - 它首先检查是否拥有主控权，只有在成为主控设备时才能执行安装操作，否则会返回错误。
func (sc *Controller) InstallProgram(ctx context.Context, program, binPath, p4InfoPath string) error {
	if !sc.IsMaster() {
		return util.NewOrderingError("install", binPath, "control does not have mastership")
	}
	return sc.Client.InstallProgram(ctx, program, binPath, p4InfoPath)
}

// Teardown 结束会话，并等待消息路由退出
func (sc *Controller) Teardown() {
	sc.Client.Teardown()
	if sc.routerDone != nil {
		<-sc.routerDone
	}
}

// Table 返回 TableControl
func (sc *Controller) Table(tableName string) (TableControl, error) {
	return NewTableControl(sc.Client, tableName)
}

// Digest 返回 DigestControl
func (sc *Controller) Digest(digestName string) (DigestControl, error) {
	catalog, err := sc.Client.Catalog()
	if err != nil {
		return DigestControl{}, err
	}
	digest, err := catalog.Digest(digestName)
	if err != nil {
		return DigestControl{}, err
	}
	return DigestControl{client: sc.Client, sender: sc.Client, digest: digest}, nil
}

// Counter 返回 CounterControl
func (sc *Controller) Counter(counterName string) (CounterControl, error) {
	return NewCounterControl(sc.Client, counterName)
}

// Register 返回 RegisterControl
func (sc *Controller) Register(registerName string) (RegisterControl, error) {
	return NewRegisterControl(sc.Client, registerName)
}

// Multicast 返回会话共享的 MulticastControl
func (sc *Controller) Multicast() *MulticastControl {
	sc.mcastOnce.Do(func() {
		sc.multicast = NewMulticastControl(sc.Client)
	})
	return sc.multicast
}

// AddToTable 写入一个表项。name 不是表而是计数器或寄存器、且没有给出动作时，
// 匹配键被当作数组索引，参数被当作要写入的值。
func (sc *Controller) AddToTable(ctx context.Context, name string, e Entry, mode WriteMode) error {
	catalog, err := sc.Client.Catalog()
	if err != nil {
		return err
	}
	table, tableErr := catalog.Table(name)
	if tableErr == nil {
		tc := TableControl{client: sc.Client, catalog: catalog, table: table}
		return tc.Add(ctx, e, mode)
	}
	if e.Action != "" {
		return tableErr
	}
	if counter, err := catalog.Counter(name); err == nil {
		return sc.writeCounterCell(ctx, CounterControl{client: sc.Client, counter: counter}, e)
	}
	if register, err := catalog.Register(name); err == nil {
		return sc.writeRegisterCell(ctx, RegisterControl{client: sc.Client, register: register}, e)
	}
	return tableErr
}

// ClearTable 删除表中所有非默认表项
func (sc *Controller) ClearTable(ctx context.Context, name string) error {
	tc, err := sc.Table(name)
	if err != nil {
		return err
	}
	return tc.Clear(ctx)
}

// ClearAll 清空程序中所有非 const 表。名称包含 ignore 中任一子串的表被跳过。
func (sc *Controller) ClearAll(ctx context.Context, ignore ...string) error {
	catalog, err := sc.Client.Catalog()
	if err != nil {
		return err
	}
	errs := &util.MultiError{Operation: "clear all tables"}
	for _, name := range catalog.Tables() {
		table, err := catalog.Table(name)
		if err != nil {
			errs.Add(err)
			continue
		}
		if table.IsConst || ignored(name, ignore) {
			sc.log.WithField("table", name).Debug("Skipping table")
			continue
		}
		tc := TableControl{client: sc.Client, catalog: catalog, table: table}
		errs.Add(tc.Clear(ctx))
	}
	return errs.ErrorOrNil()
}

func ignored(name string, ignore []string) bool {
	for _, s := range ignore {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}
	return false
}

var _ Control = (*Controller)(nil)
