// storefront is the command line client for the cart and the
// saved-for-later list.
package main

import "github.com/fjod/go_cart/storefront/internal/cli"

func main() {
	cli.Execute()
}
