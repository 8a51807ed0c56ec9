// Package kubernetes is the container.Backend for pods managed by a
// Kubernetes API server.
//
// Config loading mirrors driver/kubernetes/factory.go's fallback order:
// try the ambient kubeconfig (kubectl's default loading rules), then
// in-cluster config. driver/kubernetes/driver.go's Dial method is the
// grounding for "exec into a pod and get a stream back", by calling an
// execconn package whose source is not present in the retrieved tree;
// this backend instead builds the exec stream directly against
// k8s.io/client-go/tools/remotecommand's SPDY executor, the same API
// execconn itself would sit on top of. Attach's port forward is built
// against k8s.io/client-go/tools/portforward, since unlike a docker
// bridge network a pod IP is not generally reachable from outside the
// cluster.
package kubernetes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/transport/spdy"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/container"
	"github.com/polybugger/polybugger-mcp/dap/transport"
)

// Backend is the container.Backend for Kubernetes pods.
type Backend struct {
	clientset  *kubernetes.Clientset
	restConfig *rest.Config
}

// New loads a kube config (ambient kubeconfig, falling back to
// in-cluster) and returns a Backend over it.
func New() (*Backend, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, brokererr.New(brokererr.KindRuntimeUnavailable, err, "no usable kubernetes config (kubeconfig or in-cluster)")
		}
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, brokererr.New(brokererr.KindRuntimeUnavailable, err, "failed to build kubernetes client")
	}
	return &Backend{clientset: clientset, restConfig: restConfig}, nil
}

func (b *Backend) Runtime() container.Runtime { return container.Kubernetes }

func (b *Backend) namespace(target container.Target) string {
	if target.Namespace != "" {
		return target.Namespace
	}
	return "default"
}

// execStream runs command inside target's pod with stdin/stdout/stderr
// wired to the given streams, via an SPDY exec executor.
func (b *Backend) execStream(ctx context.Context, target container.Target, command []string, stdin io.Reader, stdout, stderr io.Writer, tty bool) error {
	req := b.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(target.Container).
		Namespace(b.namespace(target)).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Command: command,
		Stdin:   stdin != nil,
		Stdout:  stdout != nil,
		Stderr:  stderr != nil,
		TTY:     tty,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(b.restConfig, http.MethodPost, req.URL())
	if err != nil {
		return brokererr.New(brokererr.KindRuntimeUnavailable, err, "failed to build kubernetes exec executor")
	}
	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		Tty:    tty,
	})
}

// ListProcesses execs `ps -eo pid,args` inside the pod and parses its
// output, same shape as the docker/podman backends.
func (b *Backend) ListProcesses(ctx context.Context, target container.Target) ([]container.ProcessInfo, error) {
	var out, errOut strings.Builder
	err := b.execStream(ctx, target, []string{"ps", "-eo", "pid,args", "--no-headers"}, nil, &out, &errOut, false)
	if err != nil {
		return nil, brokererr.New(brokererr.KindContainerNotFound, err, "exec ps in pod %s: %s", target.Container, errOut.String())
	}

	var procs []container.ProcessInfo
	sc := bufio.NewScanner(strings.NewReader(out.String()))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		cmdline := ""
		if len(fields) == 2 {
			cmdline = strings.TrimSpace(fields[1])
		}
		procs = append(procs, container.ProcessInfo{
			PID:                       pid,
			Command:                   cmdline,
			IsTargetLanguageCandidate: container.IsLanguageCandidate(target.Language, cmdline),
		})
	}
	return procs, nil
}

// AttachInContainer execs the language's debug stub detached inside the
// pod, then establishes a real local port forward to it (a pod's
// network namespace is not reachable from outside the cluster the way
// a docker bridge network is from the host).
func (b *Backend) AttachInContainer(ctx context.Context, target container.Target, pid int, lang adapter.Language) (transport.Transport, *container.Forward, error) {
	stubPort, err := adapter.FreePort()
	if err != nil {
		return nil, nil, brokererr.New(brokererr.KindPortAllocationError, err, "failed to allocate a stub listen port")
	}
	stub, err := stubCommand(pid, stubPort, lang)
	if err != nil {
		return nil, nil, err
	}

	// Run the stub detached: start it without waiting, by not
	// cancelling the stream until the forward itself is torn down.
	stubCtx, cancelStub := context.WithCancel(context.Background())
	go func() {
		var errOut strings.Builder
		if err := b.execStream(stubCtx, target, stub, nil, io.Discard, &errOut, false); err != nil && stubCtx.Err() == nil {
			_ = errOut.String() // surfaced only via InjectionFailed below if the forward never connects
		}
	}()

	localPort, err := adapter.FreePort()
	if err != nil {
		cancelStub()
		return nil, nil, brokererr.New(brokererr.KindPortAllocationError, err, "failed to allocate a local forward port")
	}

	pf, readyCh, stopCh, err := b.newPortForward(target, localPort, stubPort)
	if err != nil {
		cancelStub()
		return nil, nil, brokererr.New(brokererr.KindInjectionFailed, err, "failed to set up port forward to pod %s", target.Container)
	}
	forwardErrCh := make(chan error, 1)
	go func() { forwardErrCh <- pf.ForwardPorts() }()

	select {
	case <-readyCh:
	case err := <-forwardErrCh:
		cancelStub()
		return nil, nil, brokererr.New(brokererr.KindPortAllocationError, err, "port forward to pod %s failed before becoming ready", target.Container)
	case <-ctx.Done():
		close(stopCh)
		cancelStub()
		return nil, nil, ctx.Err()
	}

	t, err := transport.TCP(ctx, transport.NetDialer{}, fmt.Sprintf("127.0.0.1:%d", localPort))
	if err != nil {
		close(stopCh)
		cancelStub()
		return nil, nil, err
	}

	fwd := &container.Forward{
		LocalPort: localPort,
		Close: func() error {
			close(stopCh)
			cancelStub()
			return nil
		},
	}
	return t, fwd, nil
}

// LaunchInContainer execs the DAP server binary for lang inside the pod
// with its stdio wired as a DAP transport.
func (b *Backend) LaunchInContainer(ctx context.Context, target container.Target, program string, args []string, lang adapter.Language) (transport.Transport, error) {
	_, _ = program, args
	stub, err := launchCommand(lang)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe() // pod stdout -> our read side
	cr, cw := io.Pipe() // our write side -> pod stdin

	go func() {
		var errOut strings.Builder
		_ = b.execStream(ctx, target, stub, cr, pw, &errOut, false)
		pw.Close()
	}()

	return transport.Stream(pr, cw, func() error {
		_ = cw.Close()
		return pr.Close()
	}), nil
}

func stubCommand(pid, port int, lang adapter.Language) ([]string, error) {
	switch lang {
	case adapter.Python:
		return []string{"python3", "-m", "debugpy", "--listen", fmt.Sprintf("0.0.0.0:%d", port), "--pid", strconv.Itoa(pid)}, nil
	case adapter.Go:
		return []string{"dlv", "attach", strconv.Itoa(pid), "--listen", fmt.Sprintf("0.0.0.0:%d", port), "--headless", "--api-version=2", "--accept-multiclient"}, nil
	default:
		return nil, brokererr.New(brokererr.KindInjectionFailed, nil, "attach-by-pid inside a pod is not supported for language %q", lang)
	}
}

func launchCommand(lang adapter.Language) ([]string, error) {
	switch lang {
	case adapter.Python:
		return []string{"python3", "-m", "debugpy.adapter"}, nil
	case adapter.Go:
		return []string{"dlv", "dap", "--client-addr=stdio"}, nil
	case adapter.Rust, adapter.Native:
		return []string{"lldb-dap"}, nil
	default:
		return nil, brokererr.New(brokererr.KindInjectionFailed, nil, "launch-in-container is not supported for language %q", lang)
	}
}

// newPortForward builds a portforward.PortForwarder for one
// localPort:podPort pair against target's pod exec/portforward
// sub-resource.
func (b *Backend) newPortForward(target container.Target, localPort, podPort int) (*portforward.PortForwarder, chan struct{}, chan struct{}, error) {
	req := b.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(b.namespace(target)).
		Name(target.Container).
		SubResource("portforward")

	transportRT, upgrader, err := spdy.RoundTripperFor(b.restConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transportRT}, http.MethodPost, req.URL())

	stopCh := make(chan struct{})
	readyCh := make(chan struct{})
	pf, err := portforward.New(dialer, []string{fmt.Sprintf("%d:%d", localPort, podPort)}, stopCh, readyCh, io.Discard, io.Discard)
	if err != nil {
		return nil, nil, nil, err
	}
	return pf, readyCh, stopCh, nil
}
