// fpclient is a CLI tool for testing Flex Protect offer and cart flows.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	fpclient offer -gateway URL -handle HANDLE
//	fpclient select -gateway URL -handle HANDLE -term N -price CENTS
//	fpclient decline -gateway URL -handle HANDLE
//	fpclient add -gateway URL -handle HANDLE [-variant ID] [-qty N]
//	fpclient cart -gateway URL
//	fpclient reconcile -gateway URL
//
// Session and cart cookies persist in a jar file between invocations, so a
// scripted flow behaves like one shopper:
//
//	fpclient offer -gateway http://localhost:8080 -handle acme-tv
//	fpclient select -gateway http://localhost:8080 -handle acme-tv -term 2 -price 4999
//	fpclient add -gateway http://localhost:8080 -handle acme-tv
//	fpclient cart -gateway http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	gatewayURL string
	jarPath    string
	embedRev   string
	quiet      bool
	noColor    bool
	verbose    bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "offer":
		runOffer(args)
	case "select":
		runSelect(args)
	case "decline":
		runDecline(args)
	case "add":
		runAdd(args)
	case "cart":
		runCart(args)
	case "reconcile":
		runReconcile(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `fpclient - Flex Protect gateway test tool

Usage:
  fpclient <command> [options]

Commands:
  offer      Resolve the warranty offer for a product
  select     Select a protection plan (same term toggles off)
  decline    Decline the offer for a product
  add        Add a product to the cart, with its warranty when selected
  cart       Show the current cart
  reconcile  Remove dangling warranty lines from the cart

Examples:
  # Check eligibility and plan options
  fpclient offer -gateway http://localhost:8080 -handle acme-tv

  # Pick the 2-year plan, then add the product with protection
  fpclient select -gateway http://localhost:8080 -handle acme-tv -term 2 -price 4999
  fpclient add -gateway http://localhost:8080 -handle acme-tv

  # Inspect and clean up the cart
  fpclient cart -gateway http://localhost:8080
  fpclient reconcile -gateway http://localhost:8080

Run 'fpclient <command> -h' for command-specific options.
`)
}

// =============================================================================
// COOKIE JAR
// =============================================================================

// The gateway tracks the shopper through cookies (fp_session plus whatever
// the storefront sets for the cart). A flat name=value file keeps commands
// composable: each invocation loads the jar, sends it as the Cookie header,
// and folds any Set-Cookie values back in.

func defaultJarPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fpclient-cookies.json"
	}
	return filepath.Join(home, ".fpclient-cookies.json")
}

func loadJar() map[string]string {
	jar := make(map[string]string)
	data, err := os.ReadFile(jarPath)
	if err != nil {
		return jar
	}
	json.Unmarshal(data, &jar) // Best effort; a corrupt jar starts fresh
	return jar
}

func saveJar(jar map[string]string) {
	data, err := json.MarshalIndent(jar, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(jarPath, data, 0600); err != nil && !quiet {
		printWarning("could not save cookie jar: %v", err)
	}
}

// cookieHeader renders the jar as a Cookie header value.
func cookieHeader(jar map[string]string) string {
	pairs := make([]string, 0, len(jar))
	for name, value := range jar {
		pairs = append(pairs, name+"="+value)
	}
	return strings.Join(pairs, "; ")
}

// absorbCookies folds Set-Cookie headers into the jar.
func absorbCookies(jar map[string]string, resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Value == "" || c.MaxAge < 0 {
			delete(jar, c.Name)
			continue
		}
		jar[c.Name] = c.Value
	}
}

// =============================================================================
// OFFER COMMAND
// =============================================================================

func runOffer(args []string) {
	fs := newFlagSet("offer")
	var handle string
	fs.StringVar(&handle, "handle", "", "Product handle (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fpclient offer -handle HANDLE [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseFlags(fs, args)

	if handle == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("GET", "/offer?handle="+url.QueryEscape(handle), nil)
	if err != nil {
		fatal("Failed to get offer: %v", err)
	}

	offer, _ := resp["offer"].(map[string]interface{})
	placement, _ := offer["placement"].(string)
	if quiet {
		fmt.Println(placement)
		return
	}

	if placement == "" || placement == "none" {
		printWarning("No offer for %s", handle)
		return
	}

	printSuccess("Offer available")
	fmt.Printf("  Placement: %s%s%s\n", colorCyan, placement, colorReset)
	if options, ok := offer["options"].([]interface{}); ok {
		fmt.Printf("  %sPlans:%s\n", colorYellow, colorReset)
		for _, opt := range options {
			if optMap, ok := opt.(map[string]interface{}); ok {
				fmt.Printf("    - %v year: %s\n", optMap["term"], formatCents(optMap["price"]))
			}
		}
	}
	if sel, ok := resp["selection"].(map[string]interface{}); ok {
		fmt.Printf("  Selected: %s%v year at %s%s\n",
			colorGreen, sel["term"], formatCents(sel["price"]), colorReset)
	}
	if declined, _ := resp["declined"].(bool); declined {
		fmt.Printf("  %sDeclined by shopper%s\n", colorGray, colorReset)
	}
}

// =============================================================================
// SELECT COMMAND
// =============================================================================

func runSelect(args []string) {
	fs := newFlagSet("select")
	var handle string
	var term int
	var price int64
	fs.StringVar(&handle, "handle", "", "Product handle (required)")
	fs.IntVar(&term, "term", 0, "Plan term in years (required)")
	fs.Int64Var(&price, "price", 0, "Plan price in cents (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fpclient select -handle HANDLE -term N -price CENTS [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseFlags(fs, args)

	if handle == "" || term <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	reqBody := map[string]interface{}{
		"handle": handle,
		"term":   term,
		"price":  price,
	}
	resp, err := doRequest("POST", "/offer/select", reqBody)
	if err != nil {
		fatal("Failed to select plan: %v", err)
	}

	selected, _ := resp["selected"].(bool)
	if quiet {
		fmt.Println(selected)
		return
	}
	if selected {
		printSuccess("Plan selected: %d year at %s", term, formatCents(float64(price)))
	} else {
		printInfo("Plan toggled off")
	}
}

// =============================================================================
// DECLINE COMMAND
// =============================================================================

func runDecline(args []string) {
	fs := newFlagSet("decline")
	var handle string
	fs.StringVar(&handle, "handle", "", "Product handle (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fpclient decline -handle HANDLE [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseFlags(fs, args)

	if handle == "" {
		fs.Usage()
		os.Exit(1)
	}

	if _, err := doRequest("POST", "/offer/decline", map[string]interface{}{"handle": handle}); err != nil {
		fatal("Failed to decline offer: %v", err)
	}
	printSuccess("Offer declined for %s", handle)
}

// =============================================================================
// ADD COMMAND
// =============================================================================

func runAdd(args []string) {
	fs := newFlagSet("add")
	var handle string
	var variantID int64
	var quantity int
	fs.StringVar(&handle, "handle", "", "Product handle (required)")
	fs.Int64Var(&variantID, "variant", 0, "Variant ID (defaults to the product's first variant)")
	fs.IntVar(&quantity, "qty", 1, "Quantity")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fpclient add -handle HANDLE [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseFlags(fs, args)

	if handle == "" {
		fs.Usage()
		os.Exit(1)
	}

	// Variant defaults server-side via the product lookup when omitted,
	// but /cart/add.js requires an id, so fetch it here when needed
	if variantID == 0 {
		product, err := doRequest("GET", "/offer?handle="+url.QueryEscape(handle), nil)
		if err != nil {
			fatal("Failed to resolve product: %v", err)
		}
		if offer, ok := product["offer"].(map[string]interface{}); ok {
			if info, ok := offer["product"].(map[string]interface{}); ok {
				if v, ok := info["variant_id"].(float64); ok {
					variantID = int64(v)
				}
			}
		}
	}
	if variantID == 0 {
		fatal("No variant id; pass -variant explicitly")
	}

	reqBody := map[string]interface{}{
		"id":       variantID,
		"quantity": quantity,
	}
	path := "/cart/add.js?handle=" + url.QueryEscape(handle) + "&src=programmatic"
	resp, err := doRequest("POST", path, reqBody)
	if err != nil {
		fatal("Failed to add to cart: %v", err)
	}

	action, _ := resp["action"].(string)
	if quiet {
		fmt.Println(action)
		return
	}

	switch action {
	case "combined":
		printSuccess("Product added with protection")
	case "passthrough":
		printSuccess("Product added (no protection selected)")
	case "offer_pending":
		printWarning("Add held for the offer modal; select or decline first")
	case "duplicate":
		printWarning("Duplicate add suppressed")
	default:
		printInfo("Action: %s", action)
	}
	if cart, ok := resp["cart"].(map[string]interface{}); ok {
		printCartSummary(cart)
	}
}

// =============================================================================
// CART COMMAND
// =============================================================================

func runCart(args []string) {
	fs := newFlagSet("cart")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fpclient cart [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseFlags(fs, args)

	resp, err := doRequest("GET", "/cart.js", nil)
	if err != nil {
		fatal("Failed to get cart: %v", err)
	}

	if quiet {
		count, _ := resp["item_count"].(float64)
		fmt.Println(int(count))
		return
	}
	printSuccess("Cart retrieved")
	printCartSummary(resp)
}

func printCartSummary(cart map[string]interface{}) {
	items, ok := cart["items"].([]interface{})
	if !ok || len(items) == 0 {
		fmt.Printf("  %s(empty)%s\n", colorGray, colorReset)
		return
	}
	for _, item := range items {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		title, _ := itemMap["title"].(string)
		line := fmt.Sprintf("  - %s x%v (%s)", title, itemMap["quantity"], formatCents(itemMap["final_price"]))
		if props, ok := itemMap["properties"].(map[string]interface{}); ok {
			if props["IsWarranty"] == "true" {
				line += fmt.Sprintf(" %s[warranty for variant %v]%s", colorCyan, props["Parent"], colorReset)
			}
		}
		fmt.Println(line)
	}
}

// =============================================================================
// RECONCILE COMMAND
// =============================================================================

func runReconcile(args []string) {
	fs := newFlagSet("reconcile")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: fpclient reconcile [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	parseFlags(fs, args)

	resp, err := doRequest("POST", "/cart/reconcile", nil)
	if err != nil {
		fatal("Failed to reconcile cart: %v", err)
	}

	removed, _ := resp["removed"].(float64)
	if quiet {
		fmt.Println(int(removed))
		return
	}
	if removed == 0 {
		printSuccess("Cart clean, nothing removed")
	} else {
		printSuccess("Removed %d dangling warranty line(s)", int(removed))
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// newFlagSet creates a flag set preloaded with the global flags.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&gatewayURL, "gateway", "http://localhost:8080", "Gateway base URL")
	fs.StringVar(&jarPath, "cookies", defaultJarPath(), "Cookie jar file")
	fs.StringVar(&embedRev, "rev", "v1.0.0", "Embed revision to report in FP-Client")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the key result")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	reqURL := gatewayURL + path
	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("FP-Client", fmt.Sprintf(`rev="%s", surface="cli", src="programmatic"`, embedRev))

	jar := loadJar()
	if cookie := cookieHeader(jar); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	absorbCookies(jar, resp)
	saveJar(jar)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func formatCents(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("$%.2f", val/100)
	case int:
		return fmt.Sprintf("$%.2f", float64(val)/100)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
