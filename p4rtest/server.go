// Package p4rtest provides an in-memory P4Runtime server reachable over an
// in-process bufconn listener, for tests of the client and the managers.
package p4rtest

import (
	"context"
	"io"
	"net"
	"sort"
	"sync"
	"testing"

	protov1 "github.com/golang/protobuf/proto"
	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
)

// ArbitrationMode selects how the server answers a MasterArbitrationUpdate.
type ArbitrationMode int

const (
	// ArbitrationAccept answers with status OK.
	ArbitrationAccept ArbitrationMode = iota
	// ArbitrationReject answers with ALREADY_EXISTS.
	ArbitrationReject
	// ArbitrationSilent never answers.
	ArbitrationSilent
)

// Server is a fake P4Runtime target. Table entries, counters, registers and
// multicast groups live in memory; every Write and Read is recorded.
type Server struct {
	v1.UnimplementedP4RuntimeServer

	mu          sync.Mutex
	info        *configv1.P4Info
	cookie      uint64
	arbitration ArbitrationMode

	tables    map[uint32]map[string]*v1.TableEntry
	defaults  map[uint32]*v1.TableEntry
	counters  map[uint32]map[int64]*v1.CounterData
	registers map[uint32]map[int64]*v1.P4Data
	groups    map[uint32]*v1.MulticastGroupEntry
	digests   map[uint32]*v1.DigestEntry
	failing   map[uint32]codes.Code

	writes  int
	reads   int
	acks    []*v1.DigestListAck
	streams []*streamConn

	listener *bufconn.Listener
	grpc     *grpc.Server
}

type streamConn struct {
	mu     sync.Mutex
	stream v1.P4Runtime_StreamChannelServer
}

func (c *streamConn) send(m *v1.StreamMessageResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Send(m)
}

// Option configures a Server.
type Option func(*Server)

// WithArbitration sets how arbitration requests are answered.
func WithArbitration(mode ArbitrationMode) Option {
	return func(s *Server) { s.arbitration = mode }
}

// WithoutPipeline starts the server with no forwarding pipeline installed.
func WithoutPipeline() Option {
	return func(s *Server) { s.info = nil }
}

// Start serves a fake target with info installed and stops it when the test
// ends.
func Start(t testing.TB, info *configv1.P4Info, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		info:     info,
		listener: bufconn.Listen(1 << 20),
		grpc:     grpc.NewServer(),
	}
	s.reset()
	for _, o := range opts {
		o(s)
	}
	v1.RegisterP4RuntimeServer(s.grpc, s)
	go s.grpc.Serve(s.listener)
	t.Cleanup(s.grpc.Stop)
	return s
}

func (s *Server) reset() {
	s.tables = make(map[uint32]map[string]*v1.TableEntry)
	s.defaults = make(map[uint32]*v1.TableEntry)
	s.counters = make(map[uint32]map[int64]*v1.CounterData)
	s.registers = make(map[uint32]map[int64]*v1.P4Data)
	s.groups = make(map[uint32]*v1.MulticastGroupEntry)
	s.digests = make(map[uint32]*v1.DigestEntry)
	s.failing = make(map[uint32]codes.Code)
}

// DialOptions returns what a client needs to reach the server.
func (s *Server) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

// Writes returns the number of Write RPCs received.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Reads returns the number of Read RPCs received.
func (s *Server) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Entries returns the entries of a table, sorted by their encoded key.
func (s *Server) Entries(tableID uint32) []*v1.TableEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedEntries(s.tables[tableID])
}

// Default returns the default entry written to a table, if any.
func (s *Server) Default(tableID uint32) *v1.TableEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults[tableID]
}

// Group returns a multicast group, or nil.
func (s *Server) Group(id uint32) *v1.MulticastGroupEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

// Counter returns the stored value of a counter cell, or nil.
func (s *Server) Counter(id uint32, index int64) *v1.CounterData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[id][index]
}

// SetCounter stores a counter cell.
func (s *Server) SetCounter(id uint32, index int64, byteCount, packetCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[id] == nil {
		s.counters[id] = make(map[int64]*v1.CounterData)
	}
	s.counters[id][index] = &v1.CounterData{ByteCount: byteCount, PacketCount: packetCount}
}

// Register returns the stored value of a register cell, or nil.
func (s *Server) Register(id uint32, index int64) *v1.P4Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[id][index]
}

// SetRegister stores a register cell.
func (s *Server) SetRegister(id uint32, index int64, data *v1.P4Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registers[id] == nil {
		s.registers[id] = make(map[int64]*v1.P4Data)
	}
	s.registers[id][index] = data
}

// DigestConfig returns the digest configuration written by the client.
func (s *Server) DigestConfig(id uint32) *v1.DigestEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digests[id]
}

// Acks returns the digest acknowledgements received on the stream.
func (s *Server) Acks() []*v1.DigestListAck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*v1.DigestListAck(nil), s.acks...)
}

// FailTable makes every later write touching tableID fail with c.
func (s *Server) FailTable(tableID uint32, c codes.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[tableID] = c
}

// Push sends m to every open stream.
func (s *Server) Push(m *v1.StreamMessageResponse) {
	s.mu.Lock()
	streams := append([]*streamConn(nil), s.streams...)
	s.mu.Unlock()
	for _, c := range streams {
		c.send(m)
	}
}

func (s *Server) Capabilities(context.Context, *v1.CapabilitiesRequest) (*v1.CapabilitiesResponse, error) {
	return &v1.CapabilitiesResponse{P4RuntimeApiVersion: "1.3.0"}, nil
}

func (s *Server) StreamChannel(stream v1.P4Runtime_StreamChannelServer) error {
	conn := &streamConn{stream: stream}
	s.mu.Lock()
	s.streams = append(s.streams, conn)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		for i, c := range s.streams {
			if c == conn {
				s.streams = append(s.streams[:i], s.streams[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch u := req.GetUpdate().(type) {
		case *v1.StreamMessageRequest_Arbitration:
			s.mu.Lock()
			mode := s.arbitration
			s.mu.Unlock()
			if mode == ArbitrationSilent {
				continue
			}
			st := &rpcstatus.Status{Code: int32(code.Code_OK)}
			if mode == ArbitrationReject {
				st = &rpcstatus.Status{Code: int32(code.Code_ALREADY_EXISTS), Message: "election id in use"}
			}
			resp := &v1.StreamMessageResponse{Update: &v1.StreamMessageResponse_Arbitration{
				Arbitration: &v1.MasterArbitrationUpdate{
					DeviceId:   u.Arbitration.DeviceId,
					ElectionId: u.Arbitration.ElectionId,
					Status:     st,
				},
			}}
			if err := conn.send(resp); err != nil {
				return err
			}
		case *v1.StreamMessageRequest_DigestAck:
			s.mu.Lock()
			s.acks = append(s.acks, u.DigestAck)
			s.mu.Unlock()
		}
	}
}

func (s *Server) SetForwardingPipelineConfig(_ context.Context, req *v1.SetForwardingPipelineConfigRequest) (*v1.SetForwardingPipelineConfigResponse, error) {
	if req.GetConfig().GetP4Info() == nil {
		return nil, status.Error(codes.InvalidArgument, "missing p4info")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = req.Config.P4Info
	s.cookie = req.Config.GetCookie().GetCookie()
	s.reset()
	return &v1.SetForwardingPipelineConfigResponse{}, nil
}

func (s *Server) GetForwardingPipelineConfig(_ context.Context, req *v1.GetForwardingPipelineConfigRequest) (*v1.GetForwardingPipelineConfigResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return nil, status.Error(codes.FailedPrecondition, "no forwarding pipeline config")
	}
	return &v1.GetForwardingPipelineConfigResponse{Config: &v1.ForwardingPipelineConfig{
		P4Info: s.info,
		Cookie: &v1.ForwardingPipelineConfig_Cookie{Cookie: s.cookie},
	}}, nil
}

func (s *Server) Write(_ context.Context, req *v1.WriteRequest) (*v1.WriteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, u := range req.GetUpdates() {
		if err := s.apply(u); err != nil {
			return nil, err
		}
	}
	return &v1.WriteResponse{}, nil
}

func (s *Server) apply(u *v1.Update) error {
	switch e := u.GetEntity().GetEntity().(type) {
	case *v1.Entity_TableEntry:
		return s.applyTable(u.Type, e.TableEntry)
	case *v1.Entity_CounterEntry:
		return s.applyCounter(u.Type, e.CounterEntry)
	case *v1.Entity_RegisterEntry:
		return s.applyRegister(u.Type, e.RegisterEntry)
	case *v1.Entity_PacketReplicationEngineEntry:
		return s.applyGroup(u.Type, e.PacketReplicationEngineEntry.GetMulticastGroupEntry())
	case *v1.Entity_DigestEntry:
		if u.Type == v1.Update_DELETE {
			delete(s.digests, e.DigestEntry.DigestId)
		} else {
			s.digests[e.DigestEntry.DigestId] = e.DigestEntry
		}
		return nil
	case *v1.Entity_DirectCounterEntry:
		te := e.DirectCounterEntry.GetTableEntry()
		entry, ok := s.tables[te.GetTableId()][entryKey(te)]
		if !ok {
			return status.Error(codes.NotFound, "no such entry")
		}
		entry.CounterData = e.DirectCounterEntry.Data
		return nil
	}
	return status.Errorf(codes.Unimplemented, "entity %T", u.GetEntity().GetEntity())
}

func (s *Server) applyTable(typ v1.Update_Type, te *v1.TableEntry) error {
	if c, ok := s.failing[te.TableId]; ok {
		return status.Errorf(c, "table %d is failing", te.TableId)
	}
	if !s.hasTable(te.TableId) {
		return status.Errorf(codes.NotFound, "table %d not found", te.TableId)
	}
	if te.IsDefaultAction {
		if typ != v1.Update_MODIFY {
			return status.Error(codes.InvalidArgument, "default entry can only be modified")
		}
		s.defaults[te.TableId] = te
		return nil
	}
	if s.tables[te.TableId] == nil {
		s.tables[te.TableId] = make(map[string]*v1.TableEntry)
	}
	entries := s.tables[te.TableId]
	key := entryKey(te)
	_, exists := entries[key]
	switch typ {
	case v1.Update_INSERT:
		if exists {
			return status.Error(codes.AlreadyExists, "entry exists")
		}
		entries[key] = te
	case v1.Update_MODIFY:
		if !exists {
			return status.Error(codes.NotFound, "entry not found")
		}
		entries[key] = te
	case v1.Update_DELETE:
		if !exists {
			return status.Error(codes.NotFound, "entry not found")
		}
		delete(entries, key)
	default:
		return status.Error(codes.InvalidArgument, "unspecified update type")
	}
	return nil
}

func (s *Server) applyCounter(typ v1.Update_Type, ce *v1.CounterEntry) error {
	if typ != v1.Update_MODIFY {
		return status.Error(codes.InvalidArgument, "counters can only be modified")
	}
	size := int64(-1)
	for _, c := range s.info.GetCounters() {
		if c.GetPreamble().GetId() == ce.CounterId {
			size = c.Size
		}
	}
	if size < 0 {
		return status.Errorf(codes.NotFound, "counter %d not found", ce.CounterId)
	}
	if ce.Index == nil {
		s.counters[ce.CounterId] = nil
		return nil
	}
	if ce.Index.Index < 0 || ce.Index.Index >= size {
		return status.Errorf(codes.OutOfRange, "index %d", ce.Index.Index)
	}
	if s.counters[ce.CounterId] == nil {
		s.counters[ce.CounterId] = make(map[int64]*v1.CounterData)
	}
	s.counters[ce.CounterId][ce.Index.Index] = ce.Data
	return nil
}

func (s *Server) applyRegister(typ v1.Update_Type, re *v1.RegisterEntry) error {
	if typ != v1.Update_MODIFY {
		return status.Error(codes.InvalidArgument, "registers can only be modified")
	}
	if re.Index == nil {
		cells := make(map[int64]*v1.P4Data)
		for _, r := range s.info.GetRegisters() {
			if r.GetPreamble().GetId() == re.RegisterId {
				for i := int64(0); i < int64(r.Size); i++ {
					cells[i] = re.Data
				}
			}
		}
		s.registers[re.RegisterId] = cells
		return nil
	}
	if s.registers[re.RegisterId] == nil {
		s.registers[re.RegisterId] = make(map[int64]*v1.P4Data)
	}
	s.registers[re.RegisterId][re.Index.Index] = re.Data
	return nil
}

func (s *Server) applyGroup(typ v1.Update_Type, mg *v1.MulticastGroupEntry) error {
	if mg == nil {
		return status.Error(codes.Unimplemented, "only multicast groups are supported")
	}
	_, exists := s.groups[mg.MulticastGroupId]
	switch typ {
	case v1.Update_INSERT:
		if exists {
			return status.Errorf(codes.AlreadyExists, "group %d exists", mg.MulticastGroupId)
		}
		s.groups[mg.MulticastGroupId] = mg
	case v1.Update_MODIFY:
		if !exists {
			return status.Errorf(codes.NotFound, "group %d not found", mg.MulticastGroupId)
		}
		s.groups[mg.MulticastGroupId] = mg
	case v1.Update_DELETE:
		if !exists {
			return status.Errorf(codes.NotFound, "group %d not found", mg.MulticastGroupId)
		}
		delete(s.groups, mg.MulticastGroupId)
	}
	return nil
}

// Read answers wildcard and keyed reads. Table reads also return the default
// entry a client wrote, the way some targets do, and counter or register
// cells that were never written are left out of the response.
func (s *Server) Read(req *v1.ReadRequest, stream v1.P4Runtime_ReadServer) error {
	s.mu.Lock()
	s.reads++
	var out []*v1.Entity
	for _, e := range req.GetEntities() {
		out = append(out, s.read(e)...)
	}
	s.mu.Unlock()

	if len(out) == 0 {
		return nil
	}
	return stream.Send(&v1.ReadResponse{Entities: out})
}

func (s *Server) read(e *v1.Entity) []*v1.Entity {
	var out []*v1.Entity
	switch x := e.GetEntity().(type) {
	case *v1.Entity_TableEntry:
		for _, id := range s.tableIDs(x.TableEntry.TableId) {
			for _, te := range sortedEntries(s.tables[id]) {
				out = append(out, &v1.Entity{Entity: &v1.Entity_TableEntry{TableEntry: te}})
			}
			if d, ok := s.defaults[id]; ok {
				out = append(out, &v1.Entity{Entity: &v1.Entity_TableEntry{TableEntry: d}})
			}
		}
	case *v1.Entity_DirectCounterEntry:
		for _, id := range s.tableIDs(x.DirectCounterEntry.GetTableEntry().GetTableId()) {
			for _, te := range sortedEntries(s.tables[id]) {
				if m := x.DirectCounterEntry.GetTableEntry().GetMatch(); len(m) > 0 && entryKey(te) != entryKey(x.DirectCounterEntry.TableEntry) {
					continue
				}
				data := te.CounterData
				if data == nil {
					data = &v1.CounterData{}
				}
				out = append(out, &v1.Entity{Entity: &v1.Entity_DirectCounterEntry{
					DirectCounterEntry: &v1.DirectCounterEntry{TableEntry: te, Data: data},
				}})
			}
		}
	case *v1.Entity_CounterEntry:
		cells := s.counters[x.CounterEntry.CounterId]
		for _, idx := range cellIndices(x.CounterEntry.Index, func(i int64) bool { _, ok := cells[i]; return ok }, counterKeys(cells)) {
			out = append(out, &v1.Entity{Entity: &v1.Entity_CounterEntry{CounterEntry: &v1.CounterEntry{
				CounterId: x.CounterEntry.CounterId,
				Index:     &v1.Index{Index: idx},
				Data:      cells[idx],
			}}})
		}
	case *v1.Entity_RegisterEntry:
		cells := s.registers[x.RegisterEntry.RegisterId]
		for _, idx := range cellIndices(x.RegisterEntry.Index, func(i int64) bool { _, ok := cells[i]; return ok }, registerKeys(cells)) {
			out = append(out, &v1.Entity{Entity: &v1.Entity_RegisterEntry{RegisterEntry: &v1.RegisterEntry{
				RegisterId: x.RegisterEntry.RegisterId,
				Index:      &v1.Index{Index: idx},
				Data:       cells[idx],
			}}})
		}
	case *v1.Entity_PacketReplicationEngineEntry:
		id := x.PacketReplicationEngineEntry.GetMulticastGroupEntry().GetMulticastGroupId()
		var ids []uint32
		for gid := range s.groups {
			if id == 0 || gid == id {
				ids = append(ids, gid)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, gid := range ids {
			out = append(out, &v1.Entity{Entity: &v1.Entity_PacketReplicationEngineEntry{
				PacketReplicationEngineEntry: &v1.PacketReplicationEngineEntry{
					Type: &v1.PacketReplicationEngineEntry_MulticastGroupEntry{MulticastGroupEntry: s.groups[gid]},
				},
			}})
		}
	case *v1.Entity_DigestEntry:
		if d, ok := s.digests[x.DigestEntry.DigestId]; ok {
			out = append(out, &v1.Entity{Entity: &v1.Entity_DigestEntry{DigestEntry: d}})
		}
	}
	return out
}

func (s *Server) hasTable(id uint32) bool {
	for _, t := range s.info.GetTables() {
		if t.GetPreamble().GetId() == id {
			return true
		}
	}
	return false
}

func (s *Server) tableIDs(id uint32) []uint32 {
	if id != 0 {
		return []uint32{id}
	}
	var ids []uint32
	for _, t := range s.info.GetTables() {
		ids = append(ids, t.GetPreamble().GetId())
	}
	return ids
}

// cellIndices returns the requested index when it is stored, or every stored
// index for a wildcard read.
func cellIndices(index *v1.Index, stored func(int64) bool, all []int64) []int64 {
	if index != nil {
		if stored(index.Index) {
			return []int64{index.Index}
		}
		return nil
	}
	return all
}

func counterKeys(m map[int64]*v1.CounterData) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func registerKeys(m map[int64]*v1.P4Data) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func entryKey(te *v1.TableEntry) string {
	b, _ := proto.MarshalOptions{Deterministic: true}.Marshal(protov1.MessageV2(&v1.TableEntry{
		TableId:  te.TableId,
		Match:    te.Match,
		Priority: te.Priority,
	}))
	return string(b)
}

func sortedEntries(m map[string]*v1.TableEntry) []*v1.TableEntry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*v1.TableEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
