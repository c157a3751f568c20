// Package cmd holds the impact-smc commands.
//
// smcnode runs a node and operates on running nodes:
//
//	go run ./cmd/smcnode run --config node.yaml
//	go run ./cmd/smcnode run --self 10.0.0.1 --peer 10.0.0.2 --peer 10.0.0.3 --engine /opt/impact-bin/runSMC.sh
//	go run ./cmd/smcnode query --node http://10.0.0.1:5000 study42
//	go run ./cmd/smcnode prepare --node http://10.0.0.1:5000
//	go run ./cmd/smcnode seed --config node.yaml study42 10
//
// # HTTP Configuration Mode
//
// run --wait-config serves POST /config and starts the node once a YAML
// configuration has been received:
//
//	go run ./cmd/smcnode run --wait-config --listen :5000
//	curl -X POST http://localhost:5000/config --data-binary @node.yaml
//
// # Configuration
//
// Command-line flags override config file values. Example:
//
//	listen_addr: ":5000"
//	metrics_addr: ":9090"
//	write_timeout: 6m
//	log:
//	  level: info
//	  format: json
//	directory:
//	  self: 10.0.0.1
//	  peers: [10.0.0.2, 10.0.0.3]
//	  port: 5000
//	peers:
//	  timeout: 10s
//	resolver:
//	  mode: store
//	  store:
//	    driver: sqlite3
//	    dsn: flaskr.db
//	engine:
//	  command: /opt/impact-bin/runSMC.sh
//	  timeout: 5m
//	  prepare_command: /opt/impact-bin/createTriples.sh
//
// The legacy deployment files are still accepted:
//
//	directory:
//	  others_file: /home/ec2-user/others
//	  me_file: /home/ec2-user/me
//	  port_file: /home/ec2-user/port
//	resolver:
//	  mode_file: /home/ec2-user/ICEES
//	engine:
//	  legacy_result_path: /tmp/resultTotal
package cmd
