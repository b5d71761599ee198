package urgsim

import (
	"slices"
	"strconv"

	"github.com/banshee-data/scip2/internal/scip2"
)

func isScanCommand(line string, names ...string) bool {
	return len(line) >= 2 && slices.Contains(names, line[:2])
}

func encodingFor(name string) scip2.Encoding {
	switch name {
	case "GD", "MD", "ND":
		return scip2.Encoding3
	case "GE", "ME", "NE":
		return scip2.Encoding3x2
	}
	return scip2.Encoding2
}

type param struct {
	dst   *int
	width int
}

// parseScan reads the fixed-width parameters following a scan command name.
func parseScan(line string, continuous bool) (scip2.ScanRequest, bool) {
	req := scip2.ScanRequest{Command: line[:2]}
	params := []param{{&req.Start, 4}, {&req.End, 4}, {&req.Group, 2}}
	if continuous {
		params = append(params, param{&req.Cull, 1}, param{&req.Count, 2})
	}

	pos := 2
	for _, p := range params {
		v, err := strconv.Atoi(line[pos : pos+p.width])
		if err != nil {
			return req, false
		}
		*p.dst = v
		pos += p.width
	}
	return req, true
}

func (d *Device) validWindow(req scip2.ScanRequest) bool {
	return req.Start >= d.cfg.StepMin && req.End <= d.cfg.StepMax && req.Start <= req.End
}

func (d *Device) handleBM() {
	switch {
	case d.BMFailures > 0:
		d.BMFailures--
		d.reply(scip2.CmdBM, "01")
	case d.laserOn:
		d.reply(scip2.CmdBM, "02")
	default:
		d.laserOn = true
		d.reply(scip2.CmdBM, "00")
	}
}

func (d *Device) handleSS(line string) {
	rate, err := strconv.Atoi(line[2:])
	switch {
	case err != nil:
		d.reply(line, "02")
	case d.RejectSS || !slices.Contains(SupportedBitrates, rate):
		d.reply(line, "04")
	case rate == d.bitrate:
		d.reply(line, "03")
	default:
		d.reply(line, "00")
		d.bitrate = rate
	}
}

func (d *Device) handleSingleShot(line string) {
	req, ok := parseScan(line, false)
	if !ok || !d.validWindow(req) {
		d.reply(line, "04")
		return
	}
	if !d.laserOn {
		d.laserOn = true
	}
	enc := encodingFor(req.Command)

	d.writeLines(line, d.status("00"))
	d.writeLines(scip2.WithChecksum(scip2.Encode(d.timestamp(), 4)))
	d.writeLines(scip2.EncodeBlock(d.frameValues(req, enc), enc.Width())...)
	d.writeLines("")
	d.frame++
}

func (d *Device) handleStream(line string) {
	req, ok := parseScan(line, true)
	if !ok || !d.validWindow(req) {
		d.reply(line, "04")
		return
	}
	enc := encodingFor(req.Command)
	d.laserOn = true
	d.reply(line, "00")
	d.stream = &stream{req: req, enc: enc, remaining: req.Count}
}

// emitFrame queues the next frame of the active stream.
func (d *Device) emitFrame() {
	st := d.stream
	remaining := 0
	if st.req.Count != 0 {
		st.remaining--
		remaining = st.remaining
	}

	d.writeLines(st.req.EchoPrefix()+twoDigits(remaining), d.status("99"))
	d.writeLines(scip2.WithChecksum(scip2.Encode(d.timestamp(), 4)))
	d.writeLines(scip2.EncodeBlock(d.frameValues(st.req, st.enc), st.enc.Width())...)
	d.writeLines("")
	d.frame++

	if st.req.Count != 0 && remaining == 0 {
		d.stream = nil
		d.laserOn = false
	}
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n % 100)
}

// frameValues renders one frame: the minimum range over each group of steps,
// followed by an intensity for doubled encodings.
func (d *Device) frameValues(req scip2.ScanRequest, enc scip2.Encoding) []uint32 {
	group := max(req.Group, 1)
	mask := scip2.Mask(enc.Width())
	var values []uint32
	for step := req.Start; step <= req.End; step += group {
		r := d.cfg.Range(step, d.frame)
		for s := step + 1; s < step+group && s <= req.End; s++ {
			r = min(r, d.cfg.Range(s, d.frame))
		}
		values = append(values, r&mask)
		if enc.Multiplier() == 2 {
			values = append(values, uint32(step)&mask)
		}
	}
	return values
}
