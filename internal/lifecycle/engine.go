package lifecycle

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/keithlinneman/listings-admin/internal/adminerr"
	"github.com/keithlinneman/listings-admin/internal/log"
	"github.com/keithlinneman/listings-admin/internal/objectkey"
	"github.com/keithlinneman/listings-admin/internal/objstore"
	"github.com/keithlinneman/listings-admin/internal/pathutil"
	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

const (
	ListCap      = 100
	DashboardCap = 1000

	DefaultPriority = 1
	DefaultPosition = "gallery"
)

// Operation names passed to Options.OnOperation.
const (
	OpList      = "list"
	OpApprove   = "approve"
	OpFeature   = "feature"
	OpReject    = "reject"
	OpDashboard = "dashboard"
	OpBootstrap = "bootstrap"
)

// Operation results passed to Options.OnOperation.
const (
	ResultSuccess = "success"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// DefaultFolders are the marker objects written by Bootstrap.
var DefaultFolders = []string{
	objectkey.PendingPrefix,
	objectkey.ApprovedPrefix,
	objectkey.FeaturedPrefix,
	objectkey.CuratedPrefix,
}

type Buckets struct {
	Media string `json:"media"`
	Web   string `json:"web"`
}

type Options struct {
	Store   objstore.Store
	Buckets Buckets
	Now     func() time.Time

	OnOperation    func(op, result string)
	OnCompensation func(ok bool)
}

type Engine struct {
	store   objstore.Store
	buckets Buckets
	now     func() time.Time

	onOp   func(op, result string)
	onComp func(ok bool)
}

func New(o Options) (*Engine, error) {
	if o.Store == nil {
		return nil, xerrors.New("object store is required")
	}
	if o.Buckets.Media == "" || o.Buckets.Web == "" {
		return nil, xerrors.Newf("media and web buckets are required (media=%q web=%q)", o.Buckets.Media, o.Buckets.Web)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	e := &Engine{
		store:   o.Store,
		buckets: o.Buckets,
		now:     o.Now,
		onOp:    o.OnOperation,
		onComp:  o.OnCompensation,
	}
	if e.onOp == nil {
		e.onOp = func(string, string) {}
	}
	if e.onComp == nil {
		e.onComp = func(bool) {}
	}
	return e, nil
}

func (e *Engine) Buckets() Buckets { return e.buckets }

// finish reports the outcome of op and returns err unchanged.
func (e *Engine) finish(op string, err error) error {
	switch {
	case err == nil:
		e.onOp(op, ResultSuccess)
	case adminerr.IsKind(err, adminerr.KindBackendUnavailable), adminerr.IsKind(err, adminerr.KindInternal):
		e.onOp(op, ResultError)
	default:
		e.onOp(op, ResultInvalid)
	}
	return err
}

func storeErr(err error) error {
	return adminerr.BackendUnavailable("object store unavailable", err)
}

func validateSegment(field, v string) error {
	if err := objectkey.ValidateSegment(field, v); err != nil {
		return adminerr.Validation(err.Error())
	}
	return nil
}

// validateOptional is validateSegment for identifiers that may be omitted.
func validateOptional(field, v string) error {
	if v == "" {
		return nil
	}
	return validateSegment(field, v)
}

// fileNameFor picks the caller supplied name or falls back to the last
// segment of the source key.
func fileNameFor(given, srcKey string) (string, error) {
	name := strings.TrimSpace(given)
	if name == "" {
		name = objectkey.BaseName(srcKey)
	}
	if !pathutil.IsSingleSegment(name) {
		return "", adminerr.Validation("fileName must be a single path segment")
	}
	return name, nil
}

// metaValue keeps user metadata header safe. Values with control or
// non-ASCII bytes are query escaped.
func metaValue(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] >= 0x7f {
			return url.QueryEscape(s)
		}
	}
	return s
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

type ApproveInput struct {
	ContentID  string
	S3Key      string
	UserID     string
	PropertyID string
	FileName   string
	AdminNotes string
	// Variant "edited" targets the enhanced copy, anything else the original.
	Variant string
	Actor   string
}

type ApproveResult struct {
	ContentID   string    `json:"contentId"`
	OriginalKey string    `json:"originalKey"`
	Bucket      string    `json:"bucket"`
	Variant     string    `json:"variant"`
	ApprovedBy  string    `json:"approvedBy"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

// Approve copies the source object to its approved key in the media bucket.
// Repeating the call overwrites the same key.
func (e *Engine) Approve(ctx context.Context, in ApproveInput) (ApproveResult, error) {
	res, err := e.approve(ctx, in)
	return res, e.finish(OpApprove, err)
}

func (e *Engine) approve(ctx context.Context, in ApproveInput) (ApproveResult, error) {
	if strings.TrimSpace(in.S3Key) == "" {
		return ApproveResult{}, adminerr.MissingKey()
	}
	if err := validateSegment("userId", in.UserID); err != nil {
		return ApproveResult{}, err
	}
	if err := validateSegment("propertyId", in.PropertyID); err != nil {
		return ApproveResult{}, err
	}
	name, err := fileNameFor(in.FileName, in.S3Key)
	if err != nil {
		return ApproveResult{}, err
	}

	stage, variant := objectkey.StageApprovedOriginal, "original"
	if in.Variant == "edited" {
		stage, variant = objectkey.StageApprovedEdited, "edited"
	}
	now := e.now()
	dst := objectkey.Derive(stage, in.UserID, in.PropertyID, name, now)

	lg := log.FromContext(ctx).With("op", OpApprove, "content.id", in.ContentID, "src.key", in.S3Key, "dst.key", dst, "bucket", e.buckets.Media, "actor", in.Actor)
	err = e.store.Copy(ctx, objstore.CopyInput{
		SrcBucket: e.buckets.Media,
		SrcKey:    in.S3Key,
		Bucket:    e.buckets.Media,
		Key:       dst,
		Metadata: map[string]string{
			"status":       "approved",
			"approvedDate": stamp(now),
			"adminNotes":   metaValue(in.AdminNotes),
			"approvedBy":   metaValue(in.Actor),
		},
	})
	if err != nil {
		lg.Error(ctx, err, "approve copy failed")
		return ApproveResult{}, storeErr(err)
	}
	lg.Info(ctx, "content approved")

	return ApproveResult{
		ContentID:   in.ContentID,
		OriginalKey: dst,
		Bucket:      e.buckets.Media,
		Variant:     variant,
		ApprovedBy:  in.Actor,
		ApprovedAt:  now.UTC(),
	}, nil
}

type FeatureInput struct {
	ContentID  string
	S3Key      string
	UserID     string
	PropertyID string
	FileName   string
	// Priority 0 means DefaultPriority, Position "" means DefaultPosition.
	Priority int
	Position string
	Actor    string
}

type FeatureResult struct {
	ContentID   string    `json:"contentId"`
	FeaturedKey string    `json:"featuredKey"`
	PublicKey   string    `json:"publicKey"`
	Buckets     Buckets   `json:"buckets"`
	Priority    int       `json:"priority"`
	Position    string    `json:"position"`
	FeaturedBy  string    `json:"featuredBy"`
	FeaturedAt  time.Time `json:"featuredAt"`
}

// Feature copies the source into the featured showcase and mirrors it into
// the public web bucket. A failed mirror rolls back the showcase copy.
func (e *Engine) Feature(ctx context.Context, in FeatureInput) (FeatureResult, error) {
	res, err := e.feature(ctx, in)
	return res, e.finish(OpFeature, err)
}

func (e *Engine) feature(ctx context.Context, in FeatureInput) (FeatureResult, error) {
	if strings.TrimSpace(in.S3Key) == "" {
		return FeatureResult{}, adminerr.MissingKey()
	}
	if err := validateSegment("propertyId", in.PropertyID); err != nil {
		return FeatureResult{}, err
	}
	if err := validateOptional("userId", in.UserID); err != nil {
		return FeatureResult{}, err
	}
	if in.Priority < 0 {
		return FeatureResult{}, adminerr.Validation("priority must not be negative")
	}
	name, err := fileNameFor(in.FileName, in.S3Key)
	if err != nil {
		return FeatureResult{}, err
	}
	priority := in.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	position := strings.TrimSpace(in.Position)
	if position == "" {
		position = DefaultPosition
	}

	now := e.now()
	featuredKey := objectkey.Derive(objectkey.StageFeatured, in.UserID, in.PropertyID, name, now)
	publicKey := objectkey.PublicKey(in.PropertyID, name)

	lg := log.FromContext(ctx).With("op", OpFeature, "content.id", in.ContentID, "src.key", in.S3Key,
		"featured.key", featuredKey, "public.key", publicKey,
		"bucket.media", e.buckets.Media, "bucket.web", e.buckets.Web, "actor", in.Actor)

	err = e.store.Copy(ctx, objstore.CopyInput{
		SrcBucket: e.buckets.Media,
		SrcKey:    in.S3Key,
		Bucket:    e.buckets.Media,
		Key:       featuredKey,
		Metadata: map[string]string{
			"status":       "featured",
			"featuredDate": stamp(now),
			"position":     metaValue(position),
			"priority":     strconv.Itoa(priority),
			"featuredBy":   metaValue(in.Actor),
		},
	})
	if err != nil {
		lg.Error(ctx, err, "feature copy failed")
		return FeatureResult{}, storeErr(err)
	}

	err = e.store.Copy(ctx, objstore.CopyInput{
		SrcBucket: e.buckets.Media,
		SrcKey:    in.S3Key,
		Bucket:    e.buckets.Web,
		Key:       publicKey,
		Metadata: map[string]string{
			"source":       "featured",
			"featuredDate": stamp(now),
		},
	})
	if err != nil {
		lg.Error(ctx, err, "public mirror copy failed")
		e.rollbackFeatured(ctx, lg, featuredKey)
		return FeatureResult{}, storeErr(xerrors.Wrap(err, "publish featured content"))
	}
	lg.Info(ctx, "content featured")

	return FeatureResult{
		ContentID:   in.ContentID,
		FeaturedKey: featuredKey,
		PublicKey:   publicKey,
		Buckets:     e.buckets,
		Priority:    priority,
		Position:    position,
		FeaturedBy:  in.Actor,
		FeaturedAt:  now.UTC(),
	}, nil
}

// rollbackFeatured deletes the showcase copy after a failed mirror. It runs
// on a context detached from the request so an abandoned request still
// cleans up.
func (e *Engine) rollbackFeatured(ctx context.Context, lg log.Logger, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.Delete(rctx, e.buckets.Media, key); err != nil {
		e.onComp(false)
		lg.Error(ctx, err, "feature rollback failed, showcase copy left in place")
		return
	}
	e.onComp(true)
	lg.Warn(ctx, "feature rolled back, showcase copy deleted")
}

type RejectInput struct {
	ContentID string
	Reason    string
	Actor     string
}

type RejectRecord struct {
	ContentID  string    `json:"contentId"`
	RejectedBy string    `json:"rejectedBy"`
	RejectedAt time.Time `json:"rejectedAt"`
	Reason     string    `json:"reason"`
}

// Reject records the decision. It does not touch the object store.
func (e *Engine) Reject(ctx context.Context, in RejectInput) (RejectRecord, error) {
	if strings.TrimSpace(in.ContentID) == "" {
		return RejectRecord{}, e.finish(OpReject, adminerr.Validation("content id is required"))
	}
	rec := RejectRecord{
		ContentID:  in.ContentID,
		RejectedBy: in.Actor,
		RejectedAt: e.now().UTC(),
		Reason:     in.Reason,
	}
	log.FromContext(ctx).Info(ctx, "content rejected",
		"op", OpReject, "content.id", rec.ContentID, "actor", rec.RejectedBy, "reason", rec.Reason)
	return rec, e.finish(OpReject, nil)
}

type ListInput struct {
	Status      string
	UserID      string
	ContentType string
}

type Filters struct {
	Status      string `json:"status"`
	UserID      string `json:"userId,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Prefix      string `json:"prefix"`
}

type ListResult struct {
	Items     []objstore.Object `json:"content"`
	Count     int               `json:"count"`
	Bucket    string            `json:"bucket"`
	Filters   Filters           `json:"filters"`
	Truncated bool              `json:"truncated"`
}

// List returns up to ListCap objects of the media bucket under the status
// prefix, optionally narrowed to one user and one content type.
func (e *Engine) List(ctx context.Context, in ListInput) (ListResult, error) {
	res, err := e.list(ctx, in)
	return res, e.finish(OpList, err)
}

func (e *Engine) list(ctx context.Context, in ListInput) (ListResult, error) {
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = "all"
	}
	prefix, ok := objectkey.StatusPrefix(status)
	if !ok {
		return ListResult{}, adminerr.Validation("status must be one of all, pending, approved, featured")
	}
	if err := validateOptional("userId", in.UserID); err != nil {
		return ListResult{}, err
	}
	if in.UserID != "" {
		prefix += in.UserID + "/"
	}
	ctype := strings.ToLower(strings.TrimSpace(in.ContentType))

	out, err := e.store.List(ctx, e.buckets.Media, prefix, ListCap)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "list content failed", "op", OpList, "bucket", e.buckets.Media, "prefix", prefix)
		return ListResult{}, storeErr(err)
	}

	items := out.Objects
	if ctype != "" {
		items = items[:0:0]
		for _, o := range out.Objects {
			if matchesContentType(o.Key, ctype) {
				items = append(items, o)
			}
		}
	}

	return ListResult{
		Items:  items,
		Count:  len(items),
		Bucket: e.buckets.Media,
		Filters: Filters{
			Status:      status,
			UserID:      in.UserID,
			ContentType: ctype,
			Prefix:      prefix,
		},
		Truncated: out.Truncated,
	}, nil
}

type DashboardStats struct {
	Pending   int  `json:"pending"`
	Approved  int  `json:"approved"`
	Featured  int  `json:"featured"`
	Total     int  `json:"total"`
	Truncated bool `json:"truncated"`
	// Cap is the per-stage listing bound. A stage at Cap may hold more objects.
	Cap int `json:"cap"`
}

// Dashboard counts objects per stage. Counts stop at DashboardCap.
func (e *Engine) Dashboard(ctx context.Context) (DashboardStats, error) {
	st, err := e.dashboard(ctx)
	return st, e.finish(OpDashboard, err)
}

func (e *Engine) dashboard(ctx context.Context) (DashboardStats, error) {
	prefixes := [3]string{objectkey.PendingPrefix, objectkey.ApprovedPrefix, objectkey.FeaturedPrefix}
	var (
		results [3]objstore.ListResult
		errs    [3]error
		wg      sync.WaitGroup
	)
	for i, p := range prefixes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.store.List(ctx, e.buckets.Media, p, DashboardCap)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			log.FromContext(ctx).Error(ctx, err, "dashboard listing failed", "op", OpDashboard, "bucket", e.buckets.Media, "prefix", prefixes[i])
			return DashboardStats{}, storeErr(err)
		}
	}

	st := DashboardStats{
		Pending:  len(results[0].Objects),
		Approved: len(results[1].Objects),
		Featured: len(results[2].Objects),
		Cap:      DashboardCap,
	}
	st.Total = st.Pending + st.Approved + st.Featured
	st.Truncated = results[0].Truncated || results[1].Truncated || results[2].Truncated
	return st, nil
}

type BootstrapResult struct {
	Bucket  string   `json:"bucket"`
	Folders []string `json:"folders"`
	// Failed lists markers that could not be written. The operation still
	// succeeds.
	Failed []string `json:"failed,omitempty"`
}

// Bootstrap writes a zero-byte marker per folder in the media bucket. nil
// or empty folders selects DefaultFolders. Marker failures are logged and
// skipped.
func (e *Engine) Bootstrap(ctx context.Context, folders []string) (BootstrapResult, error) {
	res, err := e.bootstrap(ctx, folders)
	return res, e.finish(OpBootstrap, err)
}

func (e *Engine) bootstrap(ctx context.Context, folders []string) (BootstrapResult, error) {
	if len(folders) == 0 {
		folders = DefaultFolders
	}
	keys := make([]string, 0, len(folders))
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		k := pathutil.FolderKey(f)
		if k == "" {
			return BootstrapResult{}, adminerr.Validation("invalid folder name " + strconv.Quote(f))
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	lg := log.FromContext(ctx).With("op", OpBootstrap, "bucket", e.buckets.Media)
	res := BootstrapResult{Bucket: e.buckets.Media, Folders: keys}
	for _, k := range keys {
		if err := e.store.PutEmpty(ctx, e.buckets.Media, k); err != nil {
			lg.Error(ctx, err, "folder marker write failed", "key", k)
			res.Failed = append(res.Failed, k)
			continue
		}
		lg.Debug(ctx, "folder marker written", "key", k)
	}
	lg.Info(ctx, "bucket bootstrap finished", "folders", len(keys), "failed", len(res.Failed))
	return res, nil
}
