package grpcsvc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	// Well-known файлы должны быть в GlobalFiles до сборки admin.proto.
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

// adminProtoPath совпадает с ServiceDesc.Metadata: по нему reflection отдаёт файл клиентам.
const adminProtoPath = "grocer/admin/v1/admin.proto"

// AdminFile: дескриптор admin.proto, зарегистрированный в protoregistry.GlobalFiles.
var AdminFile = registerAdminFile()

func adminFileProto() *descriptorpb.FileDescriptorProto {
	method := func(name, in, out string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(in),
			OutputType: proto.String(out),
		}
	}
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(adminProtoPath),
		Package: proto.String("grocer.admin.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/wrappers.proto",
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("AdminService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("ConfirmOrder", ".google.protobuf.Int64Value", ".google.protobuf.Empty"),
				method("CancelOrder", ".google.protobuf.Int64Value", ".google.protobuf.Empty"),
				method("ListPendingOrders", ".google.protobuf.Empty", ".google.protobuf.ListValue"),
				method("PromoteTopMarket", ".google.protobuf.Int64Value", ".google.protobuf.Struct"),
			},
		}},
	}
}

func registerAdminFile() protoreflect.FileDescriptor {
	file, err := protodesc.NewFile(adminFileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("build %s descriptor: %v", adminProtoPath, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		panic(fmt.Sprintf("register %s descriptor: %v", adminProtoPath, err))
	}
	return file
}
