// Package scanning provides the sweep engine for netsweep.
//
// A sweep takes an expanded list of targets (see internal/discovery), probes
// every target under a global concurrency limit and streams one DeviceRecord
// per probed target as soon as it completes.
//
// # Main Components
//
// ## Host Probe
//
// HostProbe runs the per-host pipeline:
//   - Ping: a single ICMP echo bounded by ScanOptions.PingTimeout. No reply
//     ends the probe as StatusOffline.
//   - Reverse DNS: a best-effort PTR lookup of the reply address, cached
//     across sweeps. Failures leave the hostname as "N/A".
//   - Port scan: one TCP connect per configured port, in parallel, each
//     bounded by ScanOptions.PortTimeout. Open ports keep the configured order.
//   - MAC resolution: the kernel neighbor table through internal/arp. A miss
//     yields MAC "N/A", vendor "N/A" and device type "Unknown".
//   - Vendor and device type from the OUI registry and vendor mappings in
//     internal/oui.
//
// Unexpected faults after the ping, panics included, end the record in
// StatusError with the message in both Latency and Error. Cancellation ends
// it in StatusCanceled. Neither affects other hosts.
//
// ## Scheduler
//
// Scheduler feeds targets to a pool of ScanOptions.MaxConcurrent workers.
// Each worker takes a slot from the admission gate (ResourceManager),
// optionally waits on a token-bucket limiter, probes and pushes the record
// onto the result channel. The channel closes after the last admitted
// target reports.
//
// # Usage
//
//	opts := scanning.DefaultScanOptions()
//	sched, err := scanning.NewScheduler(opts, scanning.NewHostProbe(opts))
//	if err != nil {
//		return err
//	}
//
//	for rec := range sched.Scan(ctx, targets) {
//		fmt.Println(rec.Target, rec.Status, rec.OpenPortsString())
//	}
//
// # Cancellation
//
// Cancelling the sweep context stops admission. Targets already admitted
// still produce a record, usually StatusCanceled; targets never admitted
// produce none. Consumers must drain the channel until it closes.
//
// # Port Scanners
//
// ConnectScanner dials with net.Dialer and needs no privileges.
// NmapScanner delegates to the nmap binary for environments where a full
// connect per port is undesirable.
package scanning
