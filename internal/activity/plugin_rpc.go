// plugin_rpc.go hosts out-of-process plugins over hashicorp/go-plugin's
// net/rpc transport, the same mechanism the teacher reaches for when it
// needs to run untrusted or independently-deployed plugin code
// out-of-process (plugins/security_plugin.go).
package activity

import (
	"context"
	"net/rpc"
	"os/exec"

	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/citadel-agent/routines/internal/engineerr"
)

// Handshake is the shared handshake config a plugin binary and this
// host must agree on before the RPC connection is trusted.
var Handshake = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CITADEL_ROUTINE_PLUGIN",
	MagicCookieValue: "routine-activity-v1",
}

// RPCPlugin is the go-plugin plugin.Plugin implementation shared by the
// host and the plugin binary.
type RPCPlugin struct {
	Impl Plugin
}

func (p *RPCPlugin) Server(*hcplugin.MuxBroker) (any, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *RPCPlugin) Client(b *hcplugin.MuxBroker, c *rpc.Client) (any, error) {
	return &rpcClient{client: c}, nil
}

type rpcServer struct {
	impl Plugin
}

func (s *rpcServer) Invoke(req Request, resp *Response) error {
	out, err := s.impl.Invoke(context.Background(), req)
	if err != nil {
		return err
	}
	*resp = out
	return nil
}

// rpcClient is the Plugin-shaped handle the host uses to call across
// the RPC boundary into a plugin subprocess.
type rpcClient struct {
	client *rpc.Client
}

func (c *rpcClient) Invoke(ctx context.Context, req Request) (Response, error) {
	var resp Response
	if err := c.client.Call("Plugin.Invoke", req, &resp); err != nil {
		return Response{}, engineerr.NewPluginRetryableError(err)
	}
	return resp, nil
}

// HostedPluginSet is the plugin.PluginSet every routine activity plugin
// binary registers under the name "activity".
func HostedPluginSet(impl Plugin) map[string]hcplugin.Plugin {
	return map[string]hcplugin.Plugin{
		"activity": &RPCPlugin{Impl: impl},
	}
}

// HostedClient manages one subprocess plugin's lifecycle: launching the
// binary, performing the handshake, and exposing the dispensed Plugin.
type HostedClient struct {
	client *hcplugin.Client
	plugin Plugin
}

// DialHostedPlugin launches the plugin binary at path and dispenses its
// "activity" implementation.
func DialHostedPlugin(path string, args ...string) (*HostedClient, error) {
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         map[string]hcplugin.Plugin{"activity": &RPCPlugin{}},
		Cmd:             exec.Command(path, args...),
		AllowedProtocols: []hcplugin.Protocol{
			hcplugin.ProtocolNetRPC,
		},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, engineerr.Wrap(engineerr.KindPluginFatal, "failed to start plugin subprocess", err)
	}

	raw, err := rpcClient.Dispense("activity")
	if err != nil {
		client.Kill()
		return nil, engineerr.Wrap(engineerr.KindPluginFatal, "failed to dispense plugin", err)
	}

	impl, ok := raw.(Plugin)
	if !ok {
		client.Kill()
		return nil, engineerr.NewPluginFatalError(nil)
	}

	return &HostedClient{client: client, plugin: impl}, nil
}

func (h *HostedClient) Invoke(ctx context.Context, req Request) (Response, error) {
	return h.plugin.Invoke(ctx, req)
}

// Close terminates the plugin subprocess.
func (h *HostedClient) Close() {
	h.client.Kill()
}
