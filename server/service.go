package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/spirio-sessions/hmmmusictool/music"
	"github.com/spirio-sessions/hmmmusictool/session"
)

// ServiceName is the grpc name of the performer service
const ServiceName = "hmmmusictool.Performer"

// Message types sent by the client
const (
	Submit    = "submit"
	Update    = "update"
	Reload    = "reload"
	KeyDown   = "keydown"
	KeyUp     = "keyup"
	SaveHMM   = "saveHMM"
	ChangeHMM = "changeHMM"
)

// Reply types sent by the server
const (
	PredictedMelody = "predicted-melody"
	SetHmmList      = "setHmmList"
	UpdateHmmList   = "updateHmmList"
	UIConfig        = "uiConfig"
	Msg             = "msg"
)

// NewModel is the changeHMM name that starts over with the default options
const NewModel = "new"

// Message is one client request on the perform stream
type Message struct {
	Type     string       `json:"type"`
	Form     session.Form `json:"form,omitempty"`
	Note     int          `json:"note,omitempty"`
	Velocity int          `json:"velocity,omitempty"`
	Name     string       `json:"name,omitempty"`
}

// Reply is one server message on the perform stream
type Reply struct {
	Type   string       `json:"type"`
	Melody []music.Note `json:"melody,omitempty"`
	Names  []string     `json:"names,omitempty"`
	Name   string       `json:"name,omitempty"`
	Form   session.Form `json:"form,omitempty"`
	Text   string       `json:"text,omitempty"`
}

// PerformerServer is implemented by Server
type PerformerServer interface {
	Perform(PerformStream) error
}

// PerformStream is the server side of a perform call
type PerformStream interface {
	Send(*Reply) error
	Recv() (*Message, error)
	grpc.ServerStream
}

type performStream struct {
	grpc.ServerStream
}

func (s *performStream) Send(r *Reply) error {
	return s.ServerStream.SendMsg(r)
}

func (s *performStream) Recv() (*Message, error) {
	m := new(Message)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func performHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PerformerServer).Perform(&performStream{stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PerformerServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Perform",
			Handler:       performHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "hmmmusictool",
}

// Client is the client side of a perform call
type Client struct {
	stream grpc.ClientStream
}

// NewClient opens a perform stream on conn
func NewClient(ctx context.Context, conn grpc.ClientConnInterface) (*Client, error) {
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Perform", grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	return &Client{stream: stream}, nil
}

// Send sends one message
func (c *Client) Send(m *Message) error {
	return c.stream.SendMsg(m)
}

// Recv waits for the next reply
func (c *Client) Recv() (*Reply, error) {
	r := new(Reply)
	if err := c.stream.RecvMsg(r); err != nil {
		return nil, err
	}
	return r, nil
}

// CloseSend ends the client side of the stream
func (c *Client) CloseSend() error {
	return c.stream.CloseSend()
}
