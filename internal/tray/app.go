package tray

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"runtime"
	"strings"

	"github.com/getlantern/systray"
	"github.com/rs/zerolog"

	"github.com/NowakAdmin/BoardConfigurator/internal/serialport"
	"github.com/NowakAdmin/BoardConfigurator/internal/ui"
	"github.com/NowakAdmin/BoardConfigurator/internal/version"
)

var (
	idleColor      = color.RGBA{128, 128, 128, 255}
	connectedColor = color.RGBA{0, 128, 128, 255}
)

type portItem struct {
	name string
	item *systray.MenuItem
}

type App struct {
	ctrl    *ui.Controller
	logPath string
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	status    *systray.MenuItem
	lastLine  *systray.MenuItem
	portsMenu *systray.MenuItem
	portItems []portItem
	portClick chan string
}

func New(ctrl *ui.Controller, logPath string, logger zerolog.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		ctrl:      ctrl,
		logPath:   logPath,
		logger:    logger.With().Str("component", "tray").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		portClick: make(chan string),
	}
}

func (a *App) Run() {
	systray.Run(a.onReady, a.onExit)
}

func (a *App) onReady() {
	systray.SetIcon(generateIcon(16, idleColor))
	systray.SetTitle("Board Configurator")
	systray.SetTooltip("Board Configurator - serial settings for the board")

	a.status = systray.AddMenuItem("Status: disconnected", "Connection status")
	a.status.Disable()

	a.portsMenu = systray.AddMenuItem(portTitle(a.ctrl.Port()), "Serial port used for sending")
	refresh := a.portsMenu.AddSubMenuItem("Refresh", "Rescan serial ports")

	send := systray.AddMenuItem("Send settings", "Send the saved form to the board")
	disconnect := systray.AddMenuItem("Disconnect", "Close the serial port")

	systray.AddSeparator()
	a.lastLine = systray.AddMenuItem("Board: -", "Last message from the board")
	a.lastLine.Disable()
	openLog := systray.AddMenuItem("Open log file", a.logPath)
	versionItem := systray.AddMenuItem("Version: "+version.Version, "Application version")
	versionItem.Disable()

	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Close Board Configurator")

	dispatcher := a.ctrl.Dispatcher()
	go dispatcher.Run(a.ctx)

	a.ctrl.Subscribe(func(line string) {
		a.lastLine.SetTitle("Board: " + line)
	})
	dispatcher.Post(a.refreshPorts)

	if problems := a.ctrl.Problems(); len(problems) > 0 {
		title, tooltip := problemStatus(problems)
		a.status.SetTitle(title)
		systray.SetTooltip(tooltip)
	}

	go func() {
		for {
			select {
			case <-refresh.ClickedCh:
				dispatcher.Post(a.refreshPorts)

			case name := <-a.portClick:
				dispatcher.Post(func() {
					a.ctrl.SelectPort(name)
					a.portsMenu.SetTitle(portTitle(name))
					a.checkPort(name)
				})

			case <-send.ClickedCh:
				dispatcher.Post(a.send)

			case <-disconnect.ClickedCh:
				dispatcher.Post(func() {
					msg, err := a.ctrl.Disconnect()
					if err != nil {
						a.logger.Warn().Err(err).Msg("disconnect")
					}
					a.setStatus(msg)
				})

			case <-openLog.ClickedCh:
				if err := openPath(a.logPath); err != nil {
					a.logger.Warn().Err(err).Msg("open log file")
				}

			case <-quit.ClickedCh:
				systray.Quit()
				return

			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) send() {
	sealed, err := a.ctrl.Send()
	if err != nil {
		a.logger.Error().Err(err).Msg("send failed")
		a.status.SetTitle("Error: " + err.Error())
		return
	}

	a.setStatus("The settings were sent successfully (crc32 " + sealed.Checksum + ").")
}

func (a *App) setStatus(tooltip string) {
	if a.ctrl.Connected() {
		a.status.SetTitle("Status: connected (" + a.ctrl.Session().PortName() + ")")
		systray.SetIcon(generateIcon(16, connectedColor))
	} else {
		a.status.SetTitle("Status: disconnected")
		systray.SetIcon(generateIcon(16, idleColor))
	}
	systray.SetTooltip(tooltip)
}

// refreshPorts hides the previous port entries; systray cannot remove items.
func (a *App) refreshPorts() {
	for _, p := range a.portItems {
		p.item.Hide()
	}
	a.portItems = a.portItems[:0]

	ports, err := serialport.List()
	if err != nil {
		a.logger.Warn().Err(err).Msg("list serial ports")
	}

	selected := a.ctrl.Port()
	if selected == "" && len(ports) > 0 {
		selected = ports[0].Name
		a.ctrl.SelectPort(selected)
		a.portsMenu.SetTitle(portTitle(selected))
	}

	for _, p := range ports {
		item := a.portsMenu.AddSubMenuItemCheckbox(p.String(), p.Name, p.Name == selected)
		a.portItems = append(a.portItems, portItem{name: p.Name, item: item})

		name := p.Name
		go func() {
			for {
				select {
				case <-item.ClickedCh:
					select {
					case a.portClick <- name:
					case <-a.ctx.Done():
						return
					}
				case <-a.ctx.Done():
					return
				}
			}
		}()
	}
}

func (a *App) checkPort(name string) {
	for _, p := range a.portItems {
		if p.name == name {
			p.item.Check()
		} else {
			p.item.Uncheck()
		}
	}
}

func (a *App) onExit() {
	a.ctrl.Close()
	a.cancel()
}

// problemStatus summarizes startup file errors for the status item; the
// tooltip carries all of them.
func problemStatus(problems []error) (string, string) {
	msgs := make([]string, 0, len(problems))
	for _, err := range problems {
		msgs = append(msgs, err.Error())
	}

	title := "Error: " + msgs[0]
	if len(msgs) > 1 {
		title += fmt.Sprintf(" (+%d more)", len(msgs)-1)
	}
	return title, strings.Join(msgs, "\n")
}

func portTitle(name string) string {
	if name == "" {
		return "Port: (none)"
	}
	return "Port: " + name
}

func openPath(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}

// generateIcon draws a size x size PNG: a framed board outline in c.
func generateIcon(size int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	white := color.RGBA{255, 255, 255, 255}
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			img.SetRGBA(x, y, white)
		}
	}

	margin := size / 6
	for x := 0; x < size; x++ {
		img.SetRGBA(x, margin, c)
		img.SetRGBA(x, size-margin-1, c)
	}
	for y := margin; y < size-margin; y++ {
		img.SetRGBA(margin, y, c)
		img.SetRGBA(size-margin-1, y, c)
	}

	// pin header along the bottom edge
	for x := margin + 2; x < size-margin-2; x += 2 {
		img.SetRGBA(x, size-margin-3, c)
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
