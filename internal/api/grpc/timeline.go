package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/spanlens/spanlens/internal/engine"
	"github.com/spanlens/spanlens/internal/errors"
	"github.com/spanlens/spanlens/internal/filter"
	"github.com/spanlens/spanlens/pkg/types"
)

// TimelineServer implements TimelineServiceServer on top of an engine.
type TimelineServer struct {
	engine *engine.Engine
}

// NewTimelineServer creates a new gRPC timeline server.
func NewTimelineServer(eng *engine.Engine) *TimelineServer {
	return &TimelineServer{engine: eng}
}

var _ TimelineServiceServer = (*TimelineServer)(nil)

// Import loads a payload. The request carries "payload" as a JSON string and
// an optional "source".
func (s *TimelineServer) Import(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)

	fields := req.GetFields()
	payload := fields["payload"].GetStringValue()
	if payload == "" {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	source := fields["source"].GetStringValue()
	if source == "" {
		source = "grpc"
	}

	res, err := s.engine.Import(ctx, source, []byte(payload))
	if err != nil {
		return nil, toStatus(err)
	}
	log.Printf("[%s] Imported dataset %s via gRPC: %d spans", requestID, res.DatasetID, res.Spans)

	return toStruct(struct {
		engine.LoadResult
		RequestID string `json:"request_id"`
	}{res, requestID})
}

// SetFilter updates the filter. Absent fields keep their value, matching the
// HTTP API.
func (s *TimelineServer) SetFilter(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	var layers, actors []string
	var search *string
	if v, ok := fields["layers"]; ok {
		list, err := stringList("layers", v)
		if err != nil {
			return nil, err
		}
		layers = list
	}
	if v, ok := fields["actors"]; ok {
		list, err := stringList("actors", v)
		if err != nil {
			return nil, err
		}
		actors = list
	}
	if v, ok := fields["search"]; ok {
		if _, isString := v.GetKind().(*structpb.Value_StringValue); !isString {
			return nil, status.Error(codes.InvalidArgument, "search must be a string")
		}
		term := v.GetStringValue()
		search = &term
	}

	snap := s.engine.UpdateFilter(func(state filter.State) filter.State {
		if layers != nil {
			state = state.WithLayers(layers)
		}
		if actors != nil {
			state = state.WithActors(actors)
		}
		if search != nil {
			state = state.WithSearch(*search)
		}
		return state
	})
	return toStruct(map[string]interface{}{
		"filter":  snap.Filter,
		"layers":  snap.Layers,
		"actors":  snap.Actors,
		"colors":  snap.Colors,
		"visible": len(snap.Filtered),
		"total":   len(snap.Spans),
	})
}

// GetFilteredSpans returns the filtered view, or every span when "view" is
// "all".
func (s *TimelineServer) GetFilteredSpans(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	snap := s.engine.Snapshot()
	list := snap.Filtered
	switch view := req.GetFields()["view"].GetStringValue(); view {
	case "", "filtered":
	case "all":
		list = snap.Spans
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown view %q", view)
	}
	if list == nil {
		list = []types.Span{}
	}
	return toStruct(map[string]interface{}{
		"spans":      list,
		"count":      len(list),
		"total":      len(snap.Spans),
		"generation": snap.Generation,
	})
}

// GetTimeRange returns the padded view range in milliseconds.
func (s *TimelineServer) GetTimeRange(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tr := s.engine.TimeRange()
	return toStruct(map[string]interface{}{
		"start": tr.Start,
		"end":   tr.End,
		"width": tr.Width(),
	})
}

func (s *TimelineServer) GetStatistics(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.engine.Statistics())
}

func (s *TimelineServer) GetGroups(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	groups := s.engine.Groups()
	if groups == nil {
		groups = []types.Group{}
	}
	return toStruct(map[string]interface{}{"groups": groups})
}

// GetNumericSeries returns every series, or one attribute keyed by actor when
// "attribute" is set.
func (s *TimelineServer) GetNumericSeries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if attr := req.GetFields()["attribute"].GetStringValue(); attr != "" {
		byActor, err := s.engine.SeriesFor(attr)
		if err != nil {
			return nil, toStatus(err)
		}
		return toStruct(map[string]interface{}{
			"attribute": attr,
			"by_actor":  byActor,
		})
	}
	series := s.engine.NumericSeries()
	return toStruct(map[string]interface{}{
		"attributes": series.Attributes(),
		"series":     series,
	})
}

// toStatus maps a service error onto a gRPC status.
func toStatus(err error) error {
	code := codes.Internal
	switch errors.GetCategory(err) {
	case errors.ErrCategoryImport:
		code = codes.InvalidArgument
	case errors.ErrCategoryQuery:
		code = codes.InvalidArgument
		switch errors.GetCode(err) {
		case errors.CodeSpanNotFound, errors.CodeUnknownAttribute:
			code = codes.NotFound
		}
	case errors.ErrCategoryExport:
		switch errors.GetCode(err) {
		case errors.CodeUnsupportedFormat:
			code = codes.InvalidArgument
		case errors.CodeNothingToRender:
			code = codes.FailedPrecondition
		}
	case errors.ErrCategoryStorage:
		code = codes.Unavailable
		if errors.GetCode(err) == errors.CodeObjectNotFound {
			code = codes.NotFound
		}
	}
	return status.Error(code, err.Error())
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a Struct into v through its JSON encoding.
func fromStruct(in *structpb.Struct, v interface{}) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func stringList(field string, v *structpb.Value) ([]string, error) {
	list := v.GetListValue()
	if list == nil {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
			return []string{}, nil
		}
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a list of strings", field)
	}
	out := make([]string, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		str, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("%s[%d] must be a string", field, i))
		}
		out = append(out, str.StringValue)
	}
	return out, nil
}

// extractRequestID extracts or generates a request ID from gRPC metadata.
func extractRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}
