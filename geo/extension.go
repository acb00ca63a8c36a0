package geo

import (
	"context"
	"strconv"

	"github.com/c360/georelay/protocol"
)

// Filter pipeline entry names owned by this extension. Re-issuing the owning
// command replaces or removes the entry under the same name.
const (
	filterBBox       = "bbox"
	filterProjection = "projection"
)

// Extension contributes the geospatial commands BBOX, PROJECTION and PGET.
// One Extension instance serves every connection; the transformer cache is
// shared so each reference system is resolved once per process.
type Extension struct {
	defaultRef string
	cache      *TransformerCache
}

// NewExtension creates the geo extension. defaultRef overrides the default
// reference identifier; empty means DefaultReference.
func NewExtension(defaultRef string) *Extension {
	if defaultRef == "" {
		defaultRef = DefaultReference
	}
	return &Extension{
		defaultRef: NormalizeReference(defaultRef),
		cache:      NewTransformerCache(),
	}
}

// Name identifies the extension
func (e *Extension) Name() string { return "geo" }

// Attach allocates the per-session geo state and returns the handlers
// closing over it. No bbox or projection state is shared across connections.
func (e *Extension) Attach(sess *protocol.Session) map[string]protocol.HandlerFunc {
	st := &sessionState{ext: e, sess: sess}
	return map[string]protocol.HandlerFunc{
		"BBOX":       st.handleBBox,
		"PROJECTION": st.handleProjection,
		"PGET":       st.handlePGet,
	}
}

// sessionState is the per-connection geo state mutated by BBOX and
// PROJECTION. It is only touched by the connection's processor goroutine.
type sessionState struct {
	ext  *Extension
	sess *protocol.Session

	bbox        BoundingBox
	transformer *Transformer
}

// handleBBox sets the bounding box and installs the "bbox" filter on exactly
// 4 numeric arguments, removes the filter on 0 arguments, and ignores any
// other arity.
func (st *sessionState) handleBBox(_ context.Context, sess *protocol.Session, cmd protocol.Command) error {
	switch len(cmd.Args) {
	case 4:
		var vals [4]float64
		for i, arg := range cmd.Args {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		st.bbox = BoundingBox{Left: vals[0], Bottom: vals[1], Right: vals[2], Top: vals[3]}
		sess.Filters.Set(filterBBox, st.bboxFilter)
		sess.Logger().Debug("bbox filter set", "bbox", st.bbox)
	case 0:
		if sess.Filters.Remove(filterBBox) {
			sess.Logger().Debug("bbox filter removed")
		}
	default:
		sess.Logger().Debug("ignoring BBOX with unexpected arity", "args", len(cmd.Args))
	}
	return nil
}

func (st *sessionState) bboxFilter(doc any) bool {
	return st.bbox.Match(doc, st.sess.Logger())
}

// handleProjection resolves the requested output reference and installs the
// "projection" filter. The default reference removes the filter and is
// idempotent. Resolution failure leaves existing state unchanged and logs;
// wrong arity is a no-op with a diagnostic. Nothing here is fatal.
func (st *sessionState) handleProjection(_ context.Context, sess *protocol.Session, cmd protocol.Command) error {
	if len(cmd.Args) != 1 {
		sess.Logger().Warn("PROJECTION expects 1 argument", "args", len(cmd.Args))
		return nil
	}

	ref := cmd.Args[0]
	if NormalizeReference(ref) == st.ext.defaultRef {
		if sess.Filters.Remove(filterProjection) {
			sess.Logger().Debug("projection filter removed")
		}
		return nil
	}

	t, err := st.ext.cache.Resolve(ref)
	if err != nil {
		sess.Logger().Info("could not set projection", "reference", ref, "error", err)
		return nil
	}
	st.transformer = t
	sess.Filters.Set(filterProjection, st.projectionFilter)
	sess.Logger().Debug("projection filter set", "reference", t.Reference())
	return nil
}

// projectionFilter transforms the document in place and always passes: it
// filters nothing, it only rewrites coordinates.
func (st *sessionState) projectionFilter(doc any) bool {
	if st.transformer != nil {
		st.transformer.Transform(doc, st.sess.Logger())
	}
	return true
}

// handlePGet behaves like GET but applies a one-off output reference from the
// "projection" named argument instead of the connection's persistent
// projection state; the persistent "projection" entry is excluded for this
// call only, while bbox and other filters still apply.
func (st *sessionState) handlePGet(ctx context.Context, sess *protocol.Session, cmd protocol.Command) error {
	channel, ref, clientRef, err := protocol.GetArgs(cmd)
	if err != nil {
		return err
	}

	var transform func(doc any)
	if pref, ok := cmd.Named["projection"]; ok && NormalizeReference(pref) != st.ext.defaultRef {
		t, err := st.ext.cache.Resolve(pref)
		if err != nil {
			return err
		}
		transform = func(doc any) { t.Transform(doc, sess.Logger()) }
	}

	return sess.Get(ctx, channel, ref, clientRef, []string{filterProjection}, transform)
}
