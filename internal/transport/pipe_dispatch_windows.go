//go:build windows

package transport

func dialPipeTransport(id string) (Transport, error) {
	return DialWinPipe(id)
}

func listenPipeTransport(id string) (Listener, error) {
	ln, err := ListenWinPipe(id)
	if err != nil {
		return nil, err
	}
	return pipeListenerAdapter{ln}, nil
}

type pipeListenerAdapter struct{ *WinPipeListener }

func (a pipeListenerAdapter) Accept() (Transport, error) { return a.WinPipeListener.Accept() }
