package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"p4ctl/entity"
	"p4ctl/util"
)

const (
	// DefaultPort 是 P4Runtime 服务的 IANA 端口
	DefaultPort = "9559"

	DefaultHandshakeTimeout = 3 * time.Second
	DefaultRPCTimeout       = 10 * time.Second
	DefaultTeardownGrace    = 500 * time.Millisecond

	maxMessageSize = 64 * 1024 * 1024
)

// State 是会话的生命周期状态
type State int

const (
	StateCreated State = iota
	StateSubscribed
	StateBound
	StateTornDown
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubscribed:
		return "subscribed"
	case StateBound:
		return "bound"
	case StateTornDown:
		return "torn-down"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Option 用于配置 Client
type Option func(*Client)

// WithHandshakeTimeout 设置等待仲裁应答的时间
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithRPCTimeout 设置单次 Write/Read 等 RPC 的超时时间
func WithRPCTimeout(d time.Duration) Option {
	return func(c *Client) { c.rpcTimeout = d }
}

// WithTeardownGrace 设置关闭时等待流通道自行结束的时间
func WithTeardownGrace(d time.Duration) Option {
	return func(c *Client) { c.teardownGrace = d }
}

// WithDialOptions 追加 gRPC 拨号选项
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// Client 包含了处理会话所需的所有信息。
// - P4RuntimeClient: P4Runtime 客户端接口。
// - deviceID: 设备 ID。
// - clientID: 在本进程中唯一的客户端 ID，同时作为选举 ID。
// - catalog: 绑定程序后得到的资源表。
// - IncomingMessageChannel: 接收消息的通道。
// - OutgoingMessageChannel: 发送消息的通道，nil 消息表示停止发送。
type Client struct {
	v1.P4RuntimeClient
	addr     string
	deviceID uint64
	conn     *grpc.ClientConn
	dialOpts []grpc.DialOption
	log      *logrus.Entry

	handshakeTimeout time.Duration
	rpcTimeout       time.Duration
	teardownGrace    time.Duration

	mu         sync.RWMutex
	state      State
	clientID   uint32
	electionID *v1.Uint128
	isMaster   bool
	catalog    *entity.Catalog
	// closing 在 Teardown 开始时置位，之后 Subscribe 不再启动消息流
	closing bool

	IncomingMessageChannel chan *v1.StreamMessageResponse
	OutgoingMessageChannel chan *v1.StreamMessageRequest
	streamCtx              context.Context
	streamCancel           context.CancelFunc
	readerDone             chan struct{}
	writerDone             chan struct{}

	stopOnce     sync.Once
	teardownOnce sync.Once
}

// NewClient 创建一个新的 P4 Runtime 客户端。地址中没有端口时使用 9559。
// 调用方应在成功返回后立即 defer Teardown()。
func NewClient(addr string, deviceID uint64, opts ...Option) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	c := &Client{
		addr:             addr,
		deviceID:         deviceID,
		handshakeTimeout: DefaultHandshakeTimeout,
		rpcTimeout:       DefaultRPCTimeout,
		teardownGrace:    DefaultTeardownGrace,
		log:              util.WithDevice(addr, deviceID),
	}
	for _, o := range opts {
		o(c)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}, c.dialOpts...)
	conn, err := grpc.Dial(addr, dialOpts...)
	if err != nil {
		return nil, util.NewTransportError("dial", addr, err)
	}
	c.conn = conn
	c.P4RuntimeClient = v1.NewP4RuntimeClient(conn)
	return c, nil
}

// Subscribe 打开流通道并完成仲裁：
//  1. 在进程内预留客户端 ID。
//  2. 启动接收与发送两个 goroutine。
//  3. 发送 MasterArbitrationUpdate，等待状态为 OK 的应答。
//
// 超时或被拒绝时会话进入 StateFailed，客户端 ID 被释放。
func (c *Client) Subscribe(ctx context.Context, preferredClientID uint32) (uint32, error) {
	c.mu.Lock()
	if err := c.checkState("subscribe", StateCreated); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	id, err := reserveClientID(preferredClientID)
	if err != nil {
		c.mu.Unlock()
		return 0, util.NewTransportError("subscribe", c.addr, err)
	}
	c.clientID = id
	c.electionID = &v1.Uint128{High: 0, Low: uint64(id)}
	c.log = c.log.WithField("client_id", id)
	c.mu.Unlock()

	if id != preferredClientID && preferredClientID != 0 {
		c.log.Warnf("Client id %d is in use, using %d", preferredClientID, id)
	}
	c.logCapabilities(ctx)

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := c.StreamChannel(streamCtx)
	if err != nil {
		cancel()
		return 0, c.fail(util.NewTransportError("subscribe", c.addr, err))
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		cancel()
		return 0, util.NewOrderingError("subscribe", c.addr, "session was torn down")
	}
	c.streamCtx = streamCtx
	c.streamCancel = cancel
	c.startMessageChannelsLocked(stream)
	c.mu.Unlock()

	arbitration := &v1.StreamMessageRequest{
		Update: &v1.StreamMessageRequest_Arbitration{Arbitration: &v1.MasterArbitrationUpdate{
			DeviceId:   c.deviceID,
			ElectionId: c.electionID,
		}},
	}
	if err := c.Send(ctx, arbitration); err != nil {
		return 0, c.fail(util.NewTransportError("subscribe", c.addr, err))
	}

	if err := c.awaitArbitration(ctx); err != nil {
		return 0, c.fail(util.NewTransportError("subscribe", c.addr, err))
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return 0, util.NewOrderingError("subscribe", c.addr, "session was torn down")
	}
	c.state = StateSubscribed
	c.isMaster = true
	c.mu.Unlock()
	c.log.Info("Subscribed to device, acquired mastership")
	return id, nil
}

// awaitArbitration 等待仲裁应答，之前到达的其他消息会被丢弃
func (c *Client) awaitArbitration(ctx context.Context) error {
	timer := time.NewTimer(c.handshakeTimeout)
	defer timer.Stop()
	incoming := c.GetMessageChannels().IncomingMessageChannel
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return status.Errorf(codes.DeadlineExceeded, "no arbitration response within %s", c.handshakeTimeout)
		case msg, ok := <-incoming:
			if !ok {
				return status.Error(codes.Unavailable, "stream closed during arbitration")
			}
			arb := msg.GetArbitration()
			if arb == nil {
				c.log.Debugf("Dropping %T received before arbitration", msg.GetUpdate())
				continue
			}
			if arb.GetStatus().GetCode() != int32(code.Code_OK) {
				return status.ErrorProto(arb.GetStatus())
			}
			return nil
		}
	}
}

// fail 停止消息流，释放客户端 ID，并把会话标记为失败。
// 如果 Teardown 已经开始，会话保持由 Teardown 决定的状态。
func (c *Client) fail(err error) error {
	c.stopMessageChannels()
	c.mu.Lock()
	if c.clientID != 0 {
		releaseClientID(c.clientID)
		c.clientID = 0
	}
	if c.closing {
		c.mu.Unlock()
		c.log.WithError(err).Debug("Subscription interrupted by teardown")
		return util.NewOrderingError("subscribe", c.addr, "session was torn down")
	}
	c.state = StateFailed
	c.isMaster = false
	c.mu.Unlock()
	c.log.WithError(err).Error("Subscription failed")
	return err
}

func (c *Client) logCapabilities(ctx context.Context) {
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	resp, err := c.Capabilities(rctx, &v1.CapabilitiesRequest{})
	if err != nil {
		c.log.WithError(err).Warn("Capabilities RPC failed")
		return
	}
	c.log.Infof("P4Runtime server version is %s", resp.P4RuntimeApiVersion)
}

// startMessageChannelsLocked 启动两个 goroutine，调用方需持有 c.mu：
// 一个监听流通道并将接收到的消息发送到 IncomingMessageChannel，流结束时关闭该通道
// 另一个监听 OutgoingMessageChannel 并将消息发送到 gRPC 流通道，收到 nil 时关闭发送方向
func (c *Client) startMessageChannelsLocked(stream v1.P4Runtime_StreamChannelClient) {
	incoming := make(chan *v1.StreamMessageResponse, 64)
	outgoing := make(chan *v1.StreamMessageRequest, 64)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	streamCtx := c.streamCtx
	log := c.log
	c.IncomingMessageChannel = incoming
	c.OutgoingMessageChannel = outgoing
	c.readerDone = readerDone
	c.writerDone = writerDone

	// 接收消息的 goroutine
	go func() {
		defer close(readerDone)
		defer close(incoming)
		for {
			in, err := stream.Recv()
			if err == io.EOF {
				log.Debug("Stream closed by device")
				return
			}
			if err != nil {
				if status.Code(err) == codes.Canceled {
					log.Debug("Stream cancelled")
				} else {
					log.WithError(err).Warn("Error receiving message from stream")
				}
				return
			}
			select {
			case incoming <- in:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	// 发送消息的 goroutine
	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-outgoing:
				if msg == nil {
					if err := stream.CloseSend(); err != nil {
						log.WithError(err).Debug("CloseSend failed")
					}
					return
				}
				if err := stream.Send(msg); err != nil {
					log.WithError(err).Warn("Unable to send message to stream")
					return
				}
			case <-streamCtx.Done():
				return
			}
		}
	}()
}

// stopMessageChannels 推送停止标记，给接收方一段时间自然结束，然后取消流并等待两个 goroutine 退出
func (c *Client) stopMessageChannels() {
	c.stopOnce.Do(func() {
		c.mu.RLock()
		outgoing, readerDone, writerDone, cancel := c.OutgoingMessageChannel, c.readerDone, c.writerDone, c.streamCancel
		c.mu.RUnlock()
		if writerDone == nil {
			if cancel != nil {
				cancel()
			}
			return
		}
		select {
		case outgoing <- nil:
		case <-writerDone:
		case <-time.After(c.teardownGrace):
		}
		select {
		case <-readerDone:
		case <-time.After(c.teardownGrace):
		}
		cancel()
		<-readerDone
		<-writerDone
	})
}

// Teardown 关闭会话：释放客户端 ID，停止消息流，关闭 gRPC 连接。可以重复调用。
func (c *Client) Teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		if c.clientID != 0 {
			releaseClientID(c.clientID)
			c.clientID = 0
		}
		c.isMaster = false
		c.closing = true
		log := c.log
		c.mu.Unlock()

		c.stopMessageChannels()
		if err := c.conn.Close(); err != nil {
			log.WithError(err).Debug("Closing connection")
		}

		c.mu.Lock()
		// StateFailed 是终止状态
		if c.state != StateFailed {
			c.state = StateTornDown
		}
		c.catalog = nil
		c.mu.Unlock()
		log.Info("Session torn down")
	})
}

// Send 把消息放入发送队列，消息按入队顺序发出
func (c *Client) Send(ctx context.Context, msg *v1.StreamMessageRequest) error {
	if msg == nil {
		return errors.New("refusing to queue a nil stream message")
	}
	c.mu.RLock()
	outgoing, writerDone, closing := c.OutgoingMessageChannel, c.writerDone, c.closing
	c.mu.RUnlock()
	if closing {
		return util.NewOrderingError("send", c.addr, "session was torn down")
	}
	if writerDone == nil {
		return util.NewOrderingError("send", c.addr, "subscribe first")
	}
	select {
	case outgoing <- msg:
		return nil
	case <-writerDone:
		return util.NewTransportError("send", c.addr, io.ErrClosedPipe)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BindProgram 从设备读取 P4Info，并检查设备上运行的程序名称。
// 失败时丢弃已有的资源表，会话回到 StateSubscribed。
func (c *Client) BindProgram(ctx context.Context, program string) error {
	c.mu.RLock()
	err := c.checkState("bind", StateSubscribed, StateBound)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	resp, err := c.GetForwardingPipelineConfig(rctx, &v1.GetForwardingPipelineConfigRequest{
		DeviceId:     c.deviceID,
		ResponseType: v1.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE,
	})
	if err != nil {
		c.unbind()
		return util.NewTransportError("bind", program, err)
	}
	info := resp.GetConfig().GetP4Info()
	if info == nil {
		c.unbind()
		return util.NewSchemaError(program, "device has no forwarding pipeline")
	}
	catalog, err := entity.FromP4Info(info)
	if err != nil {
		c.unbind()
		return err
	}
	if program != "" && catalog.Program() != "" && catalog.Program() != program {
		c.unbind()
		return util.NewSchemaError(program, "device is running program %q", catalog.Program())
	}

	c.mu.Lock()
	c.catalog = catalog
	c.state = StateBound
	c.mu.Unlock()
	c.log.WithField("program", catalog.Program()).Infof("Bound program with %d tables", len(catalog.Tables()))
	return nil
}

func (c *Client) unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = nil
	if c.state == StateBound {
		c.state = StateSubscribed
	}
}

// InstallProgram 在目标设备上安装 P4 编译的二进制文件，然后绑定该程序
func (c *Client) InstallProgram(ctx context.Context, program, binPath, p4InfoPath string) error {
	c.mu.RLock()
	err := c.checkState("install", StateSubscribed, StateBound)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	deviceConfig, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("error when reading binary device config: %w", err)
	}
	schema, err := os.ReadFile(p4InfoPath)
	if err != nil {
		return fmt.Errorf("error when reading P4Info file: %w", err)
	}
	p4Info, err := entity.ParseP4Info(schema)
	if err != nil {
		return err
	}
	if program == "" {
		program = p4Info.GetPkgInfo().GetName()
	}

	req := &v1.SetForwardingPipelineConfigRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Action:     v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &v1.ForwardingPipelineConfig{
			P4Info:         p4Info,
			P4DeviceConfig: deviceConfig,
		},
	}
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	if _, err := c.SetForwardingPipelineConfig(rctx, req); err != nil {
		return util.NewTransportError("install", program, err)
	}
	c.log.WithField("program", program).Info("Installed forwarding pipeline")
	return c.BindProgram(ctx, program)
}

// WriteUpdate 用于更新交换机上的entity
func (c *Client) WriteUpdate(ctx context.Context, update *v1.Update) error {
	return c.WriteUpdates(ctx, update)
}

// WriteUpdates 在一个 WriteRequest 中发送多个更新
func (c *Client) WriteUpdates(ctx context.Context, updates ...*v1.Update) error {
	if len(updates) == 0 {
		return nil
	}
	c.mu.RLock()
	err := c.checkState("write", StateSubscribed, StateBound)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	req := &v1.WriteRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Updates:    updates,
	}
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	if _, err := c.Write(rctx, req); err != nil {
		return util.NewTransportError(updateOperation(updates[0].Type), c.describe(updates[0].GetEntity()), err)
	}
	return nil
}

// ReadEntities 返回一个通道，通过该通道接收请求返回的所有实体。
// 读取过程中出现的错误只会记录日志，需要错误的调用方应使用 ReadEntitiesSync。
func (c *Client) ReadEntities(ctx context.Context, entities []*v1.Entity) (chan *v1.Entity, error) {
	stream, cancel, err := c.openRead(ctx, entities)
	if err != nil {
		return nil, err
	}

	entityChannel := make(chan *v1.Entity)
	go func() {
		defer cancel()
		defer close(entityChannel)
		for {
			res, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				c.log.WithError(err).Warn("Read stream failed")
				return
			}
			for _, e := range res.Entities {
				select {
				case entityChannel <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return entityChannel, nil
}

// ReadEntitiesSync 读取所有结果并一次性返回
func (c *Client) ReadEntitiesSync(ctx context.Context, entities []*v1.Entity) ([]*v1.Entity, error) {
	stream, cancel, err := c.openRead(ctx, entities)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var result []*v1.Entity
	for {
		res, err := stream.Recv()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, util.NewTransportError("read", c.describe(entities[0]), err)
		}
		result = append(result, res.Entities...)
	}
}

func (c *Client) openRead(ctx context.Context, entities []*v1.Entity) (v1.P4Runtime_ReadClient, context.CancelFunc, error) {
	if len(entities) == 0 {
		return nil, nil, errors.New("read needs at least one entity")
	}
	c.mu.RLock()
	err := c.checkState("read", StateSubscribed, StateBound)
	c.mu.RUnlock()
	if err != nil {
		return nil, nil, err
	}

	req := &v1.ReadRequest{
		DeviceId: c.deviceID,
		Entities: entities,
	}
	rctx, cancel := c.rpcContext(ctx)
	stream, err := c.Read(rctx, req)
	if err != nil {
		cancel()
		return nil, nil, util.NewTransportError("read", c.describe(entities[0]), err)
	}
	return stream, cancel, nil
}

// Catalog 返回已绑定程序的资源表
func (c *Client) Catalog() (*entity.Catalog, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateFailed {
		return nil, util.ErrSessionFailed
	}
	if c.catalog == nil {
		return nil, util.ErrNotBound
	}
	return c.catalog, nil
}

// GetMessageChannels 返回客户端的消息通道，用于 P4 交换机和客户端之间的通信
func (c *Client) GetMessageChannels() MessageChannels {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return MessageChannels{
		IncomingMessageChannel: c.IncomingMessageChannel,
		OutgoingMessageChannel: c.OutgoingMessageChannel,
	}
}

// GetArbitrationData 返回仲裁所需的设备 ID 和选举 ID。
// 这个方法通常用于流仲裁，确保在多个客户端试图控制相同 P4 设备时，只有一个客户端拥有主控权
func (c *Client) GetArbitrationData() ArbitrationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ArbitrationData{
		DeviceID:   c.deviceID,
		ElectionID: v1.Uint128{High: c.electionID.GetHigh(), Low: c.electionID.GetLow()},
	}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) ClientID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Client) Address() string {
	return c.addr
}

func (c *Client) IsMaster() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isMaster
}

func (c *Client) SetMastershipStatus(status bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isMaster = status
}

// checkState 要求会话处于 allowed 中的某个状态，调用方需持有 c.mu
func (c *Client) checkState(op string, allowed ...State) error {
	switch c.state {
	case StateFailed:
		return util.ErrSessionFailed
	case StateTornDown:
		return util.NewOrderingError(op, c.addr, "session was torn down")
	}
	for _, s := range allowed {
		if c.state == s {
			return nil
		}
	}
	if c.state == StateCreated {
		return util.NewOrderingError(op, c.addr, "subscribe first")
	}
	return util.NewOrderingError(op, c.addr, "session is already "+c.state.String())
}

func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.rpcTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.rpcTimeout)
}

// describe 返回实体所指资源的名称，用于错误信息
func (c *Client) describe(e *v1.Entity) string {
	var id uint32
	switch x := e.GetEntity().(type) {
	case *v1.Entity_TableEntry:
		id = x.TableEntry.GetTableId()
	case *v1.Entity_CounterEntry:
		id = x.CounterEntry.GetCounterId()
	case *v1.Entity_RegisterEntry:
		id = x.RegisterEntry.GetRegisterId()
	case *v1.Entity_DirectCounterEntry:
		id = x.DirectCounterEntry.GetTableEntry().GetTableId()
	case *v1.Entity_DigestEntry:
		id = x.DigestEntry.GetDigestId()
	case *v1.Entity_PacketReplicationEngineEntry:
		return fmt.Sprintf("multicast group %d", x.PacketReplicationEngineEntry.GetMulticastGroupEntry().GetMulticastGroupId())
	default:
		return fmt.Sprintf("%T", x)
	}
	c.mu.RLock()
	catalog := c.catalog
	c.mu.RUnlock()
	if catalog != nil {
		if name := catalog.NameOf(id); name != "" {
			return name
		}
	}
	return fmt.Sprintf("id %d", id)
}

func updateOperation(t v1.Update_Type) string {
	switch t {
	case v1.Update_INSERT:
		return "insert"
	case v1.Update_MODIFY:
		return "modify"
	case v1.Update_DELETE:
		return "delete"
	}
	return "write"
}
