package resp

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/redcon"
	"go.uber.org/zap"

	"github.com/redlite/redlite/internal/engine"
	"github.com/redlite/redlite/internal/fts"
	"github.com/redlite/redlite/internal/geo"
	"github.com/redlite/redlite/internal/hashes"
	"github.com/redlite/redlite/internal/history"
	"github.com/redlite/redlite/internal/lists"
	redstrings "github.com/redlite/redlite/internal/strings"
	"github.com/redlite/redlite/internal/sets"
	"github.com/redlite/redlite/internal/streams"
	"github.com/redlite/redlite/internal/vectors"
	"github.com/redlite/redlite/internal/zsets"
)

// handlerFunc is one dispatch table entry. It receives the command as redcon
// parsed it; the table is keyed by the uppercased name, while cmd.Args[0]
// keeps the client's own spelling.
type handlerFunc func(s *Server, sess *Session, conn redcon.Conn, cmd redcon.Command)

// Server owns the redcon listener, the shared ops instances wired to the
// engine core, and the command dispatch table (spec.md §5).
type Server struct {
	core *engine.Core
	log  *zap.Logger

	password string

	strings  *redstrings.Ops
	hashes   *hashes.Ops
	lists    *lists.Ops
	sets     *sets.Ops
	zsets    *zsets.Ops
	streams  *streams.Ops
	geo      *geo.Ops
	vectors  *vectors.Ops
	fts      *fts.Ops
	history  *history.Ops

	dispatch map[string]handlerFunc

	mu      sync.Mutex
	clients map[uint64]*Session
	rs      *redcon.Server
}

// New builds a Server bound to core. password, if non-empty, requires AUTH
// before any other command is accepted (spec.md §5.4).
func New(core *engine.Core, log *zap.Logger, password string) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	histOps, err := history.New()
	if err != nil {
		return nil, err
	}
	s := &Server{
		core:     core,
		log:      log.Named("resp"),
		password: password,
		strings:  redstrings.New(core.Keys),
		hashes:   hashes.New(core.Keys),
		lists:    lists.New(core.Keys),
		sets:     sets.New(core.Keys),
		zsets:    zsets.New(core.Keys),
		streams:  streams.New(core.Keys),
		geo:      geo.New(core.Keys),
		vectors:  vectors.New(core.Keys),
		fts:      fts.New(),
		history:  histOps,
		clients:  map[uint64]*Session{},
	}
	s.dispatch = s.buildDispatch()
	return s, nil
}

// ListenAndServe blocks serving RESP connections on addr until ctx is
// canceled or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.rs = redcon.NewServer(addr, s.handle, s.accept, s.closed)
	errCh := make(chan error, 1)
	go func() { errCh <- s.rs.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = s.rs.Close()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown closes the listener, dropping any connections in flight.
func (s *Server) Shutdown() error {
	if s.rs == nil {
		return nil
	}
	return s.rs.Close()
}

func (s *Server) accept(conn redcon.Conn) bool {
	sess := newSession()
	sess.Authenticated = s.password == ""
	conn.SetContext(sess)
	s.mu.Lock()
	s.clients[sess.ID] = sess
	s.mu.Unlock()
	return true
}

func (s *Server) closed(conn redcon.Conn, err error) {
	sess, _ := conn.Context().(*Session)
	if sess == nil {
		return
	}
	s.mu.Lock()
	delete(s.clients, sess.ID)
	s.mu.Unlock()
}

func (s *Server) handle(conn redcon.Conn, cmd redcon.Command) {
	sess, _ := conn.Context().(*Session)
	if sess == nil {
		conn.WriteError("ERR no session")
		return
	}
	name := strings.ToUpper(string(cmd.Args[0]))

	if !sess.Authenticated && name != "AUTH" && name != "HELLO" && name != "QUIT" {
		conn.WriteError("NOAUTH Authentication required")
		return
	}

	h, ok := s.dispatch[name]
	if !ok {
		if sess.inTransaction() {
			sess.markDirty()
		}
		conn.WriteError("ERR unknown command '" + name + "'")
		return
	}

	// Inside MULTI, every command except the transaction-control verbs
	// themselves is queued rather than executed (spec.md §4.9).
	if sess.inTransaction() && !isTransactionControl(name) {
		if _, ok := s.dispatch[name]; !ok {
			sess.markDirty()
			conn.WriteError("ERR unknown command '" + name + "'")
			return
		}
		sess.queueCommand(name, cmd.Args)
		conn.WriteString("QUEUED")
		return
	}

	h(s, sess, conn, cmd)
}

func isTransactionControl(name string) bool {
	switch name {
	case "MULTI", "EXEC", "DISCARD", "WATCH", "UNWATCH":
		return true
	}
	return false
}

// buildDispatch assembles the full verb table. Handlers are grouped into
// per-domain files (commands_*.go) and registered here so the table itself
// stays a flat, auditable list of what the server understands.
func (s *Server) buildDispatch() map[string]handlerFunc {
	d := map[string]handlerFunc{}
	registerConnCommands(d)
	registerGenericCommands(d)
	registerTxCommands(d)
	registerStringCommands(d)
	registerHashCommands(d)
	registerListCommands(d)
	registerSetCommands(d)
	registerZSetCommands(d)
	registerStreamCommands(d)
	registerGeoCommands(d)
	registerVectorCommands(d)
	registerSearchCommands(d)
	registerHistoryCommands(d)
	return d
}

func reg(d map[string]handlerFunc, name string, fn handlerFunc) { d[name] = fn }
