package soap

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pithecene-io/propwatch/codec"
	"github.com/pithecene-io/propwatch/collector"
	"github.com/pithecene-io/propwatch/collector/memory"
	"github.com/pithecene-io/propwatch/fault"
	"github.com/pithecene-io/propwatch/log"
	"github.com/pithecene-io/propwatch/schema"
	"github.com/pithecene-io/propwatch/types"
	"github.com/pithecene-io/propwatch/xmltree"
)

// Server exposes a memory store over SOAP. Each session cookie owns one
// collector session; requests without a known cookie start a new session.
type Server struct {
	store    *memory.Store
	codec    *codec.Codec
	logger   *log.Logger
	sessions *xsync.MapOf[string, *memory.Session]
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a handler over store. logger may be nil.
func NewServer(store *memory.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	return &Server{
		store:    store,
		codec:    codec.NewWithResolver(store.Resolver()),
		logger:   logger.Named("soap.server"),
		sessions: xsync.NewMapOf[string, *memory.Session](),
	}
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	return s.sessions.Size()
}

// Close closes every session, releasing blocked waits.
func (s *Server) Close() {
	s.sessions.Range(func(id string, sess *memory.Session) bool {
		sess.Close()
		s.sessions.Delete(id)
		return true
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) *memory.Session {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if sess, ok := s.sessions.Load(c.Value); ok {
			return sess
		}
	}
	sess := s.store.Session()
	s.sessions.Store(sess.ID(), sess)
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: sess.ID(), Path: "/", HttpOnly: true})
	s.logger.Debug("session opened", map[string]any{"session_id": sess.ID()})
	return sess
}

// ServeHTTP dispatches one SOAP operation.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	op, err := parseBody(r.Body)
	if err != nil {
		s.fault(w, "parse", err)
		return
	}
	sess := s.session(w, r)

	var (
		ret      any
		declared string
	)
	ctx := r.Context()
	switch op.Tag() {
	case "CreateFilter":
		ret, err = s.createFilter(ctx, sess, op)
		declared = schema.TypeReference
	case "DestroyPropertyFilter":
		err = s.destroyFilter(ctx, sess, op)
	case "CheckForUpdates":
		ret, err = s.updates(ctx, sess, op, sess.CheckForUpdates)
		declared = schema.TypeUpdateSet
	case "WaitForUpdates":
		ret, err = s.updates(ctx, sess, op, sess.WaitForUpdates)
		declared = schema.TypeUpdateSet
	case "CancelWaitForUpdates":
		err = sess.CancelWaitForUpdates(ctx)
	case "RetrieveProperties":
		ret, err = s.retrieve(ctx, sess, op)
		declared = schema.ArrayName(schema.TypeObjectContent)
	default:
		err = fault.New(fault.ErrMalformedDocument, "dispatch", "unsupported operation "+op.Tag())
	}
	if err != nil {
		s.fault(w, op.Tag(), err)
		return
	}

	var params []param
	if ret != nil {
		params = append(params, param{"returnval", declared, ret})
	}
	body, err := buildEnvelope(s.codec, op.Tag()+"Response", params...)
	if err != nil {
		s.fault(w, op.Tag(), err)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	_, _ = w.Write(body)
}

func (s *Server) fault(w http.ResponseWriter, op string, err error) {
	s.logger.Debug("soap fault", map[string]any{"op": op, "code": fault.Code(err), "error": err.Error()})
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(buildFault(s.codec, err))
}

func (s *Server) createFilter(ctx context.Context, sess *memory.Session, op *xmltree.Element) (any, error) {
	v, err := decodeParam(s.codec, op, "spec", schema.TypePropertyFilterSpec)
	if err != nil {
		return nil, err
	}
	spec, err := specFrom(v)
	if err != nil {
		return nil, err
	}
	partial, err := decodeParam(s.codec, op, "partialUpdates", schema.TypeBoolean)
	if err != nil {
		return nil, err
	}
	p, _ := partial.(bool)
	f, err := sess.CreateFilter(ctx, spec, p)
	if err != nil {
		return nil, err
	}
	return types.NewReference(TypePropertyFilter, f.Handle()), nil
}

// destroyFilter destroys the named filter. Unknown handles are treated as
// already destroyed.
func (s *Server) destroyFilter(ctx context.Context, sess *memory.Session, op *xmltree.Element) error {
	v, err := decodeParam(s.codec, op, "_this", schema.TypeReference)
	if err != nil {
		return err
	}
	ref, ok := v.(types.Reference)
	if !ok {
		return fault.New(fault.ErrMalformedDocument, "destroyPropertyFilter", "missing _this")
	}
	filters, err := sess.Filters(ctx)
	if err != nil {
		return err
	}
	for _, f := range filters {
		if f.Handle() == ref.Value {
			return f.Destroy(ctx)
		}
	}
	return nil
}

func (s *Server) updates(ctx context.Context, sess *memory.Session, op *xmltree.Element,
	poll func(context.Context, string) (*types.UpdateBatch, error),
) (any, error) {
	v, err := decodeParam(s.codec, op, "version", schema.TypeString)
	if err != nil {
		return nil, err
	}
	version, _ := v.(string)
	b, err := poll(ctx, version)
	if err != nil || b == nil {
		return nil, err
	}
	filters, err := sess.Filters(ctx)
	if err != nil {
		return nil, err
	}
	return updateSetObject(b, filterFor(filters)), nil
}

// filterFor names the first live filter watching each object.
func filterFor(filters []collector.Filter) func(types.Reference) types.Reference {
	return func(obj types.Reference) types.Reference {
		for _, f := range filters {
			if slices.ContainsFunc(f.Spec().ObjectSet, func(o types.ObjectSpec) bool { return o.Obj == obj }) {
				return types.NewReference(TypePropertyFilter, f.Handle())
			}
		}
		return types.NewReference(TypePropertyFilter, "")
	}
}

func (s *Server) retrieve(ctx context.Context, sess *memory.Session, op *xmltree.Element) (any, error) {
	v, err := decodeParam(s.codec, op, "specSet", schema.ArrayName(schema.TypePropertyFilterSpec))
	if err != nil {
		return nil, err
	}
	arr, _ := v.(types.Array)
	specs := make([]types.FilterSpec, 0, len(arr.Items))
	for i, it := range arr.Items {
		spec, err := specFrom(it)
		if err != nil {
			return nil, fmt.Errorf("specSet[%d]: %w", i, err)
		}
		specs = append(specs, spec)
	}
	contents, err := sess.RetrieveProperties(ctx, specs)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contentsArray(contents), nil
}
