package api

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"agri-inference-service/data"
	"agri-inference-service/event"
	"agri-inference-service/service"
)

const (
	leafAnalysisServiceName = "agri.LeafAnalysisService"
	analyzeLeafMethod       = "/" + leafAnalysisServiceName + "/AnalyzeLeaf"

	// Metadata keys carried alongside the AnalyzeLeaf image stream.
	MetadataCropType = "crop-type"
	MetadataFilename = "filename"
)

// LeafAnalysisService receives an image as a stream of byte chunks and answers
// with the detection response as a protobuf Struct.
type LeafAnalysisService interface {
	AnalyzeLeaf(grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error
}

var LeafAnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: leafAnalysisServiceName,
	HandlerType: (*LeafAnalysisService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AnalyzeLeaf",
			Handler:       analyzeLeafHandler,
			ClientStreams: true,
		},
	},
	Metadata: "agri/leaf_analysis.proto",
}

func analyzeLeafHandler(srv any, stream grpc.ServerStream) error {
	return srv.(LeafAnalysisService).AnalyzeLeaf(&grpc.GenericServerStream[wrapperspb.BytesValue, structpb.Struct]{ServerStream: stream})
}

func RegisterLeafAnalysisServer(s grpc.ServiceRegistrar, srv LeafAnalysisService) {
	s.RegisterService(&LeafAnalysisServiceDesc, srv)
}

// LeafAnalysisClient is the client side of LeafAnalysisService.
type LeafAnalysisClient struct {
	cc grpc.ClientConnInterface
}

func NewLeafAnalysisClient(cc grpc.ClientConnInterface) *LeafAnalysisClient {
	return &LeafAnalysisClient{cc: cc}
}

func (c *LeafAnalysisClient) AnalyzeLeaf(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStreamingClient[wrapperspb.BytesValue, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &LeafAnalysisServiceDesc.Streams[0], analyzeLeafMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[wrapperspb.BytesValue, structpb.Struct]{ClientStream: stream}, nil
}

type LeafAnalysisServer struct {
	detector Detector
	kb       *data.KnowledgeBase
	events   Publisher
	log      *logrus.Entry
	maxSize  int
}

func NewLeafAnalysisServer(detector Detector, kb *data.KnowledgeBase, events Publisher, log *logrus.Entry, maxSize int) *LeafAnalysisServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LeafAnalysisServer{
		detector: detector,
		kb:       kb,
		events:   events,
		log:      log,
		maxSize:  maxSize,
	}
}

func (s *LeafAnalysisServer) AnalyzeLeaf(stream grpc.ClientStreamingServer[wrapperspb.BytesValue, structpb.Struct]) error {
	ctx := stream.Context()
	var cropType, filename string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		cropType = first(md.Get(MetadataCropType))
		filename = first(md.Get(MetadataFilename))
	}

	var imageData []byte
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		imageData = append(imageData, chunk.GetValue()...)
		if s.maxSize > 0 && len(imageData) > s.maxSize {
			return status.Errorf(codes.ResourceExhausted, "image exceeds %d bytes", s.maxSize)
		}
	}
	if len(imageData) == 0 {
		return status.Error(codes.InvalidArgument, "no image provided")
	}

	cropType = resolveCrop(s.kb, cropType, s.log)
	res := s.detector.Detect(ctx, service.Image{Filename: filename, Data: imageData}, cropType)

	ev := event.NewDetectionEvent(filename, cropType, res)
	publish(s.events, ev)

	response := Present(res, filename)
	response.AnalysisID = ev.ID
	response.AnalysisTimestamp = ev.Timestamp
	fields, err := response.AsMap()
	if err != nil {
		return status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return stream.SendAndClose(out)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
