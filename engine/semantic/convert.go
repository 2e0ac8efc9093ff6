package semantic

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/robin-ai/robinrag/engine/domain"
)

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://robinrag/points"))

// PointID maps a record id to its deterministic Qdrant point id.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case time.Time:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv.UTC().Format(time.RFC3339)}}
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, s := range tv {
			vals[i] = toValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		out := make([]any, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			out = append(out, fromValue(item))
		}
		return out
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, item := range k.StructValue.GetFields() {
			out[key] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

func toPayload(md map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(md))
	for k, v := range md {
		payload[k] = toValue(v)
	}
	return payload
}

func fromPayload(p map[string]*pb.Value) map[string]any {
	md := make(map[string]any, len(p))
	for k, v := range p {
		md[k] = fromValue(v)
	}
	return md
}

func toPoint(r domain.IndexRecord) *pb.PointStruct {
	payload := toPayload(r.Metadata)
	payload[domain.MetaRecordKey] = toValue(r.ID)
	return &pb.PointStruct{
		Id: &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)},
		},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: r.Vector},
			},
		},
		Payload: payload,
	}
}

// buildFilter turns a metadata map into a conjunction of exact-match
// conditions. Keys are sorted so requests are stable.
func buildFilter(filter map[string]any) *pb.Filter {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, fieldMatch(k, filter[k]))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key string, value any) *pb.Condition {
	var m *pb.Match
	switch tv := value.(type) {
	case string:
		m = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: tv}}
	case int:
		m = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(tv)}}
	case int64:
		m = &pb.Match{MatchValue: &pb.Match_Integer{Integer: tv}}
	case bool:
		m = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: tv}}
	case []string:
		m = &pb.Match{MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: tv}}}
	default:
		m = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(tv)}}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: m},
		},
	}
}
