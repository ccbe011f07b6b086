package grpcsvc_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	grpcsvc "github.com/vladislavdragonenkov/grocer/internal/service/grpc"
)

func TestAdminFile_MatchesServiceDesc(t *testing.T) {
	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(grpcsvc.ServiceName))
	require.NoError(t, err)
	service, ok := desc.(protoreflect.ServiceDescriptor)
	require.True(t, ok, "expected service descriptor, got %T", desc)
	require.Equal(t, grpcsvc.ServiceDesc.Metadata, service.ParentFile().Path())
	require.Equal(t, grpcsvc.AdminFile.Path(), service.ParentFile().Path())

	methods := service.Methods()
	require.Equal(t, len(grpcsvc.ServiceDesc.Methods), methods.Len())
	for _, m := range grpcsvc.ServiceDesc.Methods {
		require.NotNil(t, methods.ByName(protoreflect.Name(m.MethodName)), "method %s is not described", m.MethodName)
	}
	require.Equal(t, protoreflect.FullName("google.protobuf.Int64Value"), methods.ByName("ConfirmOrder").Input().FullName())
	require.Equal(t, protoreflect.FullName("google.protobuf.ListValue"), methods.ByName("ListPendingOrders").Output().FullName())
}

func TestAdminService_ReflectionDescribesService(t *testing.T) {
	f := newFixture(t)

	stream, err := reflectionpb.NewServerReflectionClient(f.conn).ServerReflectionInfo(adminCtx(t))
	require.NoError(t, err)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	var names []string
	for _, s := range resp.GetListServicesResponse().GetService() {
		names = append(names, s.GetName())
	}
	require.Contains(t, names, grpcsvc.ServiceName)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: grpcsvc.ServiceName},
	}))
	resp, err = stream.Recv()
	require.NoError(t, err)
	require.Nil(t, resp.GetErrorResponse(), "reflection error: %v", resp.GetErrorResponse())

	files := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	require.NotEmpty(t, files)
	found := false
	for _, raw := range files {
		file := &descriptorpb.FileDescriptorProto{}
		require.NoError(t, proto.Unmarshal(raw, file))
		if file.GetName() == grpcsvc.ServiceDesc.Metadata {
			found = true
			require.Len(t, file.GetService(), 1)
			require.Len(t, file.GetService()[0].GetMethod(), 4)
		}
	}
	require.True(t, found, "admin.proto is missing from the reflection response")
	require.NoError(t, stream.CloseSend())
}
